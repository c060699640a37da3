// Package control reflects arbitration decisions onto a scene driver.
//
// SceneClient is the control client handed to the arbitration controller.
// It turns the winner's on_actions into driver commands and remembers what
// it already applied, so repeated decisions for the same winner are no-ops.
package control

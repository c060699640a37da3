package flags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// FileRepository persists flag records as one JSON document on disk.
// The document is produced and consumed via protobuf JSON (protojson) over
// structpb, the same encoding the gRPC API uses.
type FileRepository struct {
	// path is the filesystem location of the JSON document.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads all flag records from disk.
func (r *FileRepository) Load(_ context.Context) ([]*flag.Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	flags, err := decodeDocument(doc.AsMap())
	if err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return flags, nil
}

// Save replaces the document on disk with the provided flags.
func (r *FileRepository) Save(_ context.Context, flags []*flag.Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := structpb.NewStruct(encodeDocument(flags))
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		Indent:          "  ",
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

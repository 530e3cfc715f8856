package entity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
)

// FileBackend persists all entities of the process in one JSON file.
// The document is a google.protobuf.Struct rendered with protojson, keyed by
// "kind/name".
type FileBackend struct {
	// path is the filesystem location of the JSON file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

// NewFileBackend creates a backend that reads/writes JSON at the provided path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path: filepath.Clean(path),
	}
}

// Load reads the value of one entity from disk.
func (f *FileBackend) Load(_ context.Context, id door.EntityID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", false, err
	}

	field, ok := doc.GetFields()[id.String()]
	if !ok {
		return "", false, nil
	}

	return field.GetStringValue(), true, nil
}

// Save writes the value of one entity, keeping the others intact.
// The file is replaced atomically through a rename.
func (f *FileBackend) Save(_ context.Context, id door.EntityID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	if doc.Fields == nil {
		doc.Fields = make(map[string]*structpb.Value, 1)
	}

	doc.Fields[id.String()] = structpb.NewStringValue(value)

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode entity file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write entity file: %w", err)
	}

	if err = os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace entity file: %w", err)
	}

	return nil
}

// read loads the whole document; a missing file is an empty document.
func (f *FileBackend) read() (*structpb.Struct, error) {
	contents, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return new(structpb.Struct), nil
		}

		return nil, fmt.Errorf("read entity file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode entity file: %w", err)
	}

	return &doc, nil
}

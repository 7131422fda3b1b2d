package pipeline

import "os"

// OSReader reads candidate files directly from disk. It is the FileReader
// used outside of tests.
type OSReader struct{}

func (OSReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

package publish_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"i4.energy/across/obdgw/publish"
)

func TestFileSinkRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	sink := publish.NewFileSink(dir)

	if err := sink.Record("rpm.log", []byte(`{"rpm":1726,"raw":"410C1AF8"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Record("rpm.log", []byte(`{"rpm":800,"raw":"410C0C80"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "rpm.log"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "{\"rpm\":1726,\"raw\":\"410C1AF8\"}\n{\"rpm\":800,\"raw\":\"410C0C80\"}\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, data)
	}
}

func TestFileSinkRecord_InvalidName(t *testing.T) {
	sink := publish.NewFileSink(t.TempDir())

	for _, name := range []string{"", ".", "..", "../escape.log", "nested/rpm.log"} {
		t.Run(name, func(t *testing.T) {
			if err := sink.Record(name, []byte("{}")); !errors.Is(err, publish.ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, got: %v", err)
			}
		})
	}
}

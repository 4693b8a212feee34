package version

import "testing"

func TestString(t *testing.T) {
	orig := Version
	Version = "v1.2.0"
	t.Cleanup(func() { Version = orig })

	want := "fieldinv v1.2.0 (unknown, built unknown)"
	if got := String("fieldinv"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

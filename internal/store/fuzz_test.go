package store

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func newDocumentFuzzer(seed int64) *fuzz.Fuzzer {
	return fuzz.New().
		RandSource(rand.NewSource(seed)).
		NilChance(0.2).
		NumElements(0, 4).
		Funcs(
			// unknown keys are covered by the fixture, keep generated ones simple
			func(m *map[string]any, c fuzz.Continue) {
				if c.RandBool() {
					*m = nil
					return
				}
				*m = map[string]any{"x_" + fmt.Sprint(c.Intn(100)): c.RandString()}
			},
			func(tst *Test, c fuzz.Continue) {
				tst.Name = c.RandString()
				if c.RandBool() {
					tst.Args = map[string]any{"to": c.RandString(), "field": c.RandString()}
				}
			},
		)
}

func TestFuzzedRoundTrip(t *testing.T) {
	f := newDocumentFuzzer(42)
	dir := t.TempDir()
	for i := 0; i < 100; i++ {
		doc := NewDocument()
		f.Fuzz(doc)

		content, err := Encode(doc)
		if err != nil {
			t.Fatalf("Encode() error = %s", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("doc%d.yml", i))
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}

		loaded, err := Parse(content)
		if err != nil {
			t.Fatalf("Parse() error = %s\n%s", err, content)
		}
		again, err := Encode(loaded)
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != string(again) {
			t.Fatalf("Round trip changed the document:\n%s\n---\n%s", content, again)
		}
	}
}

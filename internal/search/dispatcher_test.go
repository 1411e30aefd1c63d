package search

import (
	"context"
	"errors"
	"os"
	"testing"

	"linefind/internal/corpus"
	"linefind/internal/index"
)

func TestDispatcherPreloaded(t *testing.T) {
	path := writeCorpus(t, "alpha\nbeta\n")
	idx, err := index.BuildHash(path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	p := NewPool(2, nil)
	defer p.Close()
	d := NewPreloaded(p, idx)

	if d.Mode() != ModePreloaded {
		t.Errorf("Mode() = %q", d.Mode())
	}
	if d.Algorithm() != "hash" {
		t.Errorf("Algorithm() = %q", d.Algorithm())
	}

	res, _ := d.Search(context.Background(), []byte("beta"))
	if res.Err != nil || !res.Matched {
		t.Fatalf("expected match: %+v", res)
	}
	if res.Elapsed < 0 {
		t.Errorf("negative elapsed %v", res.Elapsed)
	}

	res, _ = d.Search(context.Background(), []byte("bet"))
	if res.Err != nil || res.Matched {
		t.Fatalf("expected no match: %+v", res)
	}
}

// TestDispatcherRereadFreshness modifies the corpus between queries: the
// next query must observe the new contents.
func TestDispatcherRereadFreshness(t *testing.T) {
	path := writeCorpus(t, "alpha\n")

	p := NewPool(2, nil)
	defer p.Close()
	scan, err := Algorithm("Linear Search")
	if err != nil {
		t.Fatal(err)
	}
	d := NewReread(p, scan, path, "Linear Search")

	res, _ := d.Search(context.Background(), []byte("omega"))
	if res.Matched {
		t.Fatal("omega should not match yet")
	}

	if err := os.WriteFile(path, []byte("alpha\nomega\n"), 0o644); err != nil {
		t.Fatalf("rewrite corpus: %v", err)
	}

	res, _ = d.Search(context.Background(), []byte("omega"))
	if res.Err != nil || !res.Matched {
		t.Fatalf("expected fresh read to match: %+v", res)
	}
}

func TestDispatcherRereadIOError(t *testing.T) {
	path := writeCorpus(t, "alpha\n")
	p := NewPool(1, nil)
	defer p.Close()
	scan, _ := Algorithm("Linear Search")
	d := NewReread(p, scan, path, "Linear Search")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	res, _ := d.Search(context.Background(), []byte("alpha"))
	if res.Err == nil {
		t.Fatal("expected error after corpus removal")
	}
	if kind := ErrKind(res.Err); kind != "reread_io" {
		t.Errorf("ErrKind = %q, want reread_io", kind)
	}
}

func TestErrKind(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&PanicError{Value: "x"}, "panic"},
		{ErrPoolClosed, "shutdown"},
		{&corpus.Error{Path: "p", Err: errors.New("gone")}, "reread_io"},
		{errors.New("other"), "search"},
	} {
		if got := ErrKind(tc.err); got != tc.want {
			t.Errorf("ErrKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

package services_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
)

func TestScopeStore_Lifecycle(t *testing.T) {
	s := services.NewScopeStore()

	if err := s.Open("tok"); err != nil {
		t.Fatal(err)
	}
	if err := s.Open("tok"); !errors.Is(err, services.ErrScopeOpen) {
		t.Errorf("second Open err = %v", err)
	}
	if !s.IsOpen("tok") || s.Len() != 1 {
		t.Error("scope should be open")
	}

	if replaced, err := s.Record("tok", "tok", capture.CapturedNode{URL: "first"}); err != nil || replaced {
		t.Errorf("Record = %v %v", replaced, err)
	}
	if replaced, _ := s.Record("tok", "tok", capture.CapturedNode{URL: "second"}); !replaced {
		t.Error("re-recording a key should report replacement")
	}
	_, _ = s.Record("tok", "tok.1", capture.CapturedNode{URL: "child"})

	results, err := s.Close("tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results["tok"].URL != "second" {
		t.Errorf("unexpected results %+v", results)
	}

	if _, err := s.Record("tok", "tok.2", capture.CapturedNode{}); !errors.Is(err, services.ErrUnknownScope) {
		t.Errorf("late Record err = %v", err)
	}
	if _, err := s.Close("tok"); !errors.Is(err, services.ErrUnknownScope) {
		t.Errorf("second Close err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestScopeStore_Concurrent(t *testing.T) {
	s := services.NewScopeStore()
	_ = s.Open("tok")

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Record("tok", "tok."+string(rune('a'+i%26))+string(rune('a'+i/26)), capture.CapturedNode{})
		}()
	}
	wg.Wait()

	results, _ := s.Close("tok")
	if len(results) != 100 {
		t.Errorf("expected 100 nodes, got %d", len(results))
	}
}

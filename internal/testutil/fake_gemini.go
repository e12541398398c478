package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
)

// FakeFileStore is an in-memory stand-in for the Gemini File API. New
// uploads start in InitialState (ACTIVE by default, so tests skip the
// polling loop); queue entries in States to script state transitions
// observed by successive Get calls.
type FakeFileStore struct {
	mu      sync.Mutex
	files   map[string]*genai.File
	uploads int
	gets    int
	deleted []string

	// InitialState is assigned to newly uploaded files.
	InitialState genai.FileState

	// States queues the file states returned by successive Get calls
	// per file name. Once drained, Get keeps returning the last state.
	States map[string][]genai.FileState

	// Error injection.
	UploadErr error
	GetErr    error
	DeleteErr error
	ListErr   error
}

// NewFakeFileStore creates an empty fake store.
func NewFakeFileStore() *FakeFileStore {
	return &FakeFileStore{
		files:        make(map[string]*genai.File),
		States:       make(map[string][]genai.FileState),
		InitialState: genai.FileStateActive,
	}
}

// Upload stores the file under a generated files/fake-N name.
func (s *FakeFileStore) Upload(ctx context.Context, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error) {
	if s.UploadErr != nil {
		return nil, s.UploadErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads++
	name := fmt.Sprintf("files/fake-%d", s.uploads)
	f := &genai.File{
		Name:       name,
		URI:        "https://generativelanguage.example.com/v1beta/" + name,
		State:      s.InitialState,
		CreateTime: time.Now(),
	}
	if opts != nil {
		f.DisplayName = opts.DisplayName
		f.MIMEType = opts.MIMEType
	}
	if r != nil {
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return nil, err
		}
		f.SizeBytes = n
	}

	s.files[name] = f
	copy := *f
	return &copy, nil
}

// Get returns the stored file, advancing through any scripted states.
func (s *FakeFileStore) Get(ctx context.Context, name string) (*genai.File, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("fake file store: %s not found", name)
	}
	if queue := s.States[name]; len(queue) > 0 {
		f.State = queue[0]
		s.States[name] = queue[1:]
	}

	copy := *f
	return &copy, nil
}

// Delete removes the stored file and records the name.
func (s *FakeFileStore) Delete(ctx context.Context, name string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("fake file store: %s not found", name)
	}
	delete(s.files, name)
	s.deleted = append(s.deleted, name)
	return nil
}

// List returns every stored file.
func (s *FakeFileStore) List(ctx context.Context) ([]*genai.File, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]*genai.File, 0, len(s.files))
	for _, f := range s.files {
		copy := *f
		files = append(files, &copy)
	}
	return files, nil
}

// Uploads returns the number of Upload calls.
func (s *FakeFileStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Gets returns the number of Get calls.
func (s *FakeFileStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Deleted returns the names passed to Delete, in order.
func (s *FakeFileStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Len returns the number of stored files.
func (s *FakeFileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// FakeGenerator returns scripted answers for generation calls.
type FakeGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     [][]genai.Part

	// Err makes every call fail.
	Err error
}

// NewFakeGenerator creates a generator that serves the given responses
// in order; the last one repeats once the script runs out.
func NewFakeGenerator(responses ...string) *FakeGenerator {
	return &FakeGenerator{responses: responses}
}

// Generate records the call and returns the next scripted response.
func (g *FakeGenerator) Generate(ctx context.Context, parts ...genai.Part) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, parts)
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.responses) == 0 {
		return "", errors.New("fake generator: no scripted response")
	}

	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp, nil
}

// Calls returns the number of Generate calls.
func (g *FakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// LastParts returns the parts of the most recent call, or nil.
func (g *FakeGenerator) LastParts() []genai.Part {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

// LastPrompt concatenates the text parts of the most recent call. File
// parts are skipped, so this is the prompt text a test can assert on.
func (g *FakeGenerator) LastPrompt() string {
	var b strings.Builder
	for _, part := range g.LastParts() {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

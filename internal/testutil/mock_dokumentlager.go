// Package testutil provides a configurable mock Dokumentlager server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MockPage describes one scanned page served by the mock.
type MockPage struct {
	Reference string
	FileName  string
	Body      []byte

	// Delay before serving the binary, for exercising completion-order permutations.
	Delay time.Duration

	// NoImage drops the image/tiff variant from the listing, mimicking the
	// incomplete articles the real service occasionally holds.
	NoImage bool
}

type pageScript struct {
	failures int
	status   int
}

// MockDokumentlager is a configurable mock document-storage server.
type MockDokumentlager struct {
	Username string
	Password string

	server *httptest.Server

	mu          sync.Mutex
	articles    map[string][]MockPage
	pages       map[string]MockPage
	scripts     map[string]*pageScript
	downloads   map[string]int
	validTokens map[string]bool
	handlers    map[string]http.HandlerFunc

	loginCount   int
	requestCount int
}

// NewMockDokumentlager creates a mock server accepting the default test
// credentials ("reader"/"secret").
func NewMockDokumentlager() *MockDokumentlager {
	m := &MockDokumentlager{
		Username:    "reader",
		Password:    "secret",
		articles:    make(map[string][]MockPage),
		pages:       make(map[string]MockPage),
		scripts:     make(map[string]*pageScript),
		downloads:   make(map[string]int),
		validTokens: make(map[string]bool),
		handlers:    make(map[string]http.HandlerFunc),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockDokumentlager) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDokumentlager) Close() {
	m.server.Close()
}

// AddArticle registers an article and its pages, in scan order.
func (m *MockDokumentlager) AddArticle(id string, pages ...MockPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles[id] = pages
	for _, p := range pages {
		m.pages[p.Reference] = p
	}
}

// FailPage makes the next `times` downloads of a page reference answer with
// the given status before serving normally again.
func (m *MockDokumentlager) FailPage(reference string, times, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[reference] = &pageScript{failures: times, status: status}
}

// ExpireTokens invalidates every issued token so the next authorized request
// gets a 401 until a new login happens.
func (m *MockDokumentlager) ExpireTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens = make(map[string]bool)
}

// SetHandler installs a custom handler for a specific path.
func (m *MockDokumentlager) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Logins returns the number of login exchanges performed.
func (m *MockDokumentlager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCount
}

// Requests returns the total number of requests received.
func (m *MockDokumentlager) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// DownloadCount returns how many binary downloads were attempted for a reference.
func (m *MockDokumentlager) DownloadCount(reference string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads[reference]
}

func (m *MockDokumentlager) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	custom := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if custom != nil {
		custom(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		m.handleLogin(w, r)
		return
	}

	if !m.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/api/list/"):
		m.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/binaryDownload/"):
		m.handleDownload(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockDokumentlager) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validTokens[token]
}

func (m *MockDokumentlager) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if creds.Username != m.Username || creds.Password != m.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	m.loginCount++
	token := fmt.Sprintf("token-%d", m.loginCount)
	m.validTokens[token] = true
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// listing entity shapes mirroring the real service's response.
type listingVariant struct {
	Value map[string]string `json:"value"`
}

type listingEntity struct {
	EntityType string                      `json:"entityType"`
	Properties map[string][]listingVariant `json:"properties"`
}

func (m *MockDokumentlager) handleList(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/list/")
	id := strings.SplitN(rest, "/", 2)[0]

	m.mu.Lock()
	pages, ok := m.articles[id]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// A leading non-Resource entity, as the real listings carry article
	// metadata alongside the page resources.
	entities := []listingEntity{{
		EntityType: "Entity",
		Properties: map[string][]listingVariant{},
	}}

	for _, p := range pages {
		variants := []listingVariant{{
			Value: map[string]string{
				"mimeType":         "image/jpeg",
				"reference":        p.Reference + "-preview",
				"profile":          "preview",
				"originalFileName": strings.TrimSuffix(p.FileName, ".tif") + ".jpg",
			},
		}}
		if !p.NoImage {
			variants = append(variants, listingVariant{
				Value: map[string]string{
					"mimeType":         "image/tiff",
					"reference":        p.Reference,
					"profile":          "original",
					"originalFileName": p.FileName,
				},
			})
		}
		entities = append(entities, listingEntity{
			EntityType: "Resource",
			Properties: map[string][]listingVariant{"resource.originalFile": variants},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entities)
}

func (m *MockDokumentlager) handleDownload(w http.ResponseWriter, r *http.Request) {
	ref, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/binaryDownload/"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.downloads[ref]++
	script := m.scripts[ref]
	if script != nil && script.failures > 0 {
		script.failures--
		status := script.status
		m.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	page, ok := m.pages[ref]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if page.Delay > 0 {
		time.Sleep(page.Delay)
	}

	w.Header().Set("Content-Type", "image/tiff")
	w.Write(page.Body)
}

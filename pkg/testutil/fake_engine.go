// Package testutil provides test doubles for the engine REST API.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// APIPrefix is the path prefix served by FakeEngine.
const APIPrefix = "/v2"

// Reply is one scripted response.
type Reply struct {
	Status int
	Body   any
	Header http.Header
}

// Call is one request received by FakeEngine.
type Call struct {
	Method string
	Path   string
	Vars   map[string]string
	Header http.Header
	Body   []byte
}

// Decode unmarshals the request body into v.
func (c Call) Decode(v any) error {
	return json.Unmarshal(c.Body, v)
}

// FakeEngine is an httptest server with gorilla/mux routes whose responses
// are scripted per route and whose calls are recorded.
type FakeEngine struct {
	server *httptest.Server
	router *mux.Router
	api    *mux.Router

	mu       sync.Mutex
	scripts  map[string][]Reply
	handlers map[string]http.HandlerFunc
	calls    map[string][]Call
}

// NewFakeEngine starts a fake engine closed at test cleanup.
func NewFakeEngine(t testing.TB) *FakeEngine {
	t.Helper()
	f := &FakeEngine{
		router:   mux.NewRouter(),
		scripts:  make(map[string][]Reply),
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string][]Call),
	}
	f.api = f.router.PathPrefix(APIPrefix).Subrouter()
	f.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, Problem(http.StatusNotFound, "NOT_FOUND", "no route for "+r.Method+" "+r.URL.Path))
	})
	f.server = httptest.NewServer(f.router)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the REST address to configure a client with.
func (f *FakeEngine) URL() string {
	return f.server.URL + APIPrefix
}

// Script queues replies for method+route, where route is a mux template
// such as "/jobs/{jobKey}/completion". Replies are consumed in order and
// the last one repeats.
func (f *FakeEngine) Script(method, route string, replies ...Reply) {
	key := routeKey(method, route)
	f.mu.Lock()
	f.scripts[key] = append(f.scripts[key], replies...)
	f.mu.Unlock()
	f.register(method, route)
}

// Handle installs a custom handler for method+route. Calls are still recorded.
func (f *FakeEngine) Handle(method, route string, handler http.HandlerFunc) {
	key := routeKey(method, route)
	f.mu.Lock()
	f.handlers[key] = handler
	f.mu.Unlock()
	f.register(method, route)
}

// Calls returns the requests received on method+route.
func (f *FakeEngine) Calls(method, route string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[routeKey(method, route)]
	out := make([]Call, len(calls))
	copy(out, calls)
	return out
}

// CallCount returns the number of requests received on method+route.
func (f *FakeEngine) CallCount(method, route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[routeKey(method, route)])
}

func (f *FakeEngine) register(method, route string) {
	key := routeKey(method, route)
	f.mu.Lock()
	_, seen := f.calls[key]
	if !seen {
		f.calls[key] = []Call{}
	}
	f.mu.Unlock()
	if seen {
		return
	}

	f.api.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		call := Call{
			Method: r.Method,
			Path:   r.URL.Path,
			Vars:   mux.Vars(r),
			Header: r.Header.Clone(),
			Body:   body,
		}

		f.mu.Lock()
		f.calls[key] = append(f.calls[key], call)
		handler := f.handlers[key]
		reply, ok := f.nextReplyLocked(key)
		f.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		if !ok {
			WriteJSON(w, http.StatusNotFound, Problem(http.StatusNotFound, "NOT_FOUND", "no scripted reply"))
			return
		}
		for name, values := range reply.Header {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		WriteJSON(w, reply.Status, reply.Body)
	}).Methods(method)
}

func (f *FakeEngine) nextReplyLocked(key string) (Reply, bool) {
	queue := f.scripts[key]
	if len(queue) == 0 {
		return Reply{}, false
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.scripts[key] = queue[1:]
	}
	return reply, true
}

func routeKey(method, route string) string {
	return method + " " + route
}

// Problem builds an RFC 7807 body.
func Problem(status int, title, detail string) map[string]any {
	return map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": status,
		"detail": detail,
	}
}

// ProblemReply is a Reply carrying problem details.
func ProblemReply(status int, title, detail string) Reply {
	return Reply{
		Status: status,
		Body:   Problem(status, title, detail),
		Header: http.Header{"Content-Type": []string{"application/problem+json"}},
	}
}

// WriteJSON writes body as JSON with status. A nil body writes no content.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	if status == 0 {
		status = http.StatusOK
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

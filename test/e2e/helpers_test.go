package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/alist"
	"github.com/alexjbarnes/alist-sync/internal/auth"
	"github.com/alexjbarnes/alist-sync/internal/logging"
	"github.com/alexjbarnes/alist-sync/internal/mcpserver"
	"github.com/alexjbarnes/alist-sync/internal/monitor"
	"github.com/alexjbarnes/alist-sync/internal/server"
	"github.com/alexjbarnes/alist-sync/internal/state"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/alexjbarnes/alist-sync/internal/syncer"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	alistUser    = "admin"
	alistPass    = "alist-pass"
	alistToken   = "e2e-token"
	monitorUser  = "ops"
	monitorPass  = "monitor-pass"
	sourceDir    = "/115/Movies"
	targetDir    = "/cloud/Movies"
	pollInterval = 10 * time.Millisecond
)

// fakeAList is an in-memory AList server. Copies complete synchronously,
// so the undone task list is always empty.
type fakeAList struct {
	mu      sync.Mutex
	dirs    map[string][]string
	renames []string
	copies  [][]string
}

func newFakeAList(t *testing.T, dirs map[string][]string) (*fakeAList, *httptest.Server) {
	t.Helper()

	f := &fakeAList{dirs: dirs}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return f, srv
}

func envelope(w http.ResponseWriter, code int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": msg,
		"data":    data,
	})
}

func (f *fakeAList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/auth/login" {
		var req alist.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != alistUser || req.Password != alistPass {
			envelope(w, 400, "password is incorrect", nil)
			return
		}
		envelope(w, 200, "success", alist.LoginResponse{Token: alistToken})
		return
	}

	if r.Header.Get("Authorization") != alistToken {
		envelope(w, 401, "token is invalidated", nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/me":
		envelope(w, 200, "success", alist.MeResponse{ID: 1, Username: alistUser})

	case "/api/fs/list":
		var req alist.ListRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		names, ok := f.dirs[req.Path]
		if !ok {
			envelope(w, 500, "object not found", nil)
			return
		}
		resp := alist.ListResponse{Total: len(names)}
		for _, n := range names {
			resp.Content = append(resp.Content, alist.ListObject{Name: n, IsDir: true})
		}
		envelope(w, 200, "success", resp)

	case "/api/fs/rename":
		var req alist.RenameRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		dir, old := path.Split(req.Path)
		dir = path.Clean(dir)
		i := slices.Index(f.dirs[dir], old)
		if i < 0 {
			envelope(w, 500, "object not found", nil)
			return
		}
		f.dirs[dir][i] = req.Name
		f.renames = append(f.renames, old+"->"+req.Name)
		envelope(w, 200, "success", nil)

	case "/api/fs/copy":
		var req alist.CopyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := alist.CopyResponse{}
		for _, n := range req.Names {
			f.dirs[req.DstDir] = append(f.dirs[req.DstDir], n)
			resp.Tasks = append(resp.Tasks, alist.TaskInfo{ID: "task-" + n, Name: "copy " + n, State: 2})
		}
		f.copies = append(f.copies, slices.Clone(req.Names))
		envelope(w, 200, "success", resp)

	case "/api/admin/task/copy/undone":
		envelope(w, 200, "success", []alist.TaskInfo{})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAList) addFolder(dir, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[dir] = append(f.dirs[dir], name)
}

func (f *fakeAList) folders(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.dirs[dir])
	slices.Sort(out)
	return out
}

func (f *fakeAList) copyRequests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.copies)
}

// harness runs the whole service against a fake AList server: a real
// client session, bbolt state, status reporter, scheduler and the
// monitoring HTTP surface.
type harness struct {
	URL     string
	Client  *http.Client
	AList   *fakeAList
	DataDir string
	Sched   *syncer.Scheduler
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

type harnessOpts struct {
	runOnStart bool
	dirs       map[string][]string
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	fake, alistSrv := newFakeAList(t, opts.dirs)
	dataDir := t.TempDir()

	logFile, err := logging.OpenDailyFile(dataDir, logging.DefaultBackups)
	require.NoError(t, err)
	t.Cleanup(func() { logFile.Close() })

	logger := logging.NewLogger("development", io.Discard, logFile)

	appState, err := state.LoadAt(state.DBPath(dataDir))
	require.NoError(t, err)
	t.Cleanup(func() { appState.Close() })

	session := alist.NewSession(alist.NewClient(alistSrv.URL, nil), alistUser, alistPass, func(token string) {
		_ = appState.SetToken(token)
	}, logger)
	require.NoError(t, session.Authenticate(t.Context(), appState.Token()))

	reporter := status.NewReporter(dataDir, logger)

	sched := syncer.New(syncer.Config{
		SourceDir:      sourceDir,
		DestDir:        targetDir,
		DailyHour:      time.Now().Add(12 * time.Hour).Hour(),
		RunOnStart:     opts.runOnStart,
		CheckInterval:  pollInterval,
		ErrorBackoff:   pollInterval,
		RequestTimeout: 5 * time.Second,
		MaxConcurrent:  3,
	}, session, appState, reporter, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(monitorPass), bcrypt.MinCost)
	require.NoError(t, err)

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "alist-sync-e2e", Version: "test"}, nil)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		StatusPath:   reporter.Path(),
		LogPath:      logFile.Path(),
		DefaultLines: 50,
		Refresher:    sched,
	})

	watcher := monitor.NewStatusWatcher(reporter.Path(), logger)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Users:        auth.UserCredentials{monitorUser: string(hash)},
		StatusPath:   reporter.Path(),
		LogPath:      logFile.Path(),
		DefaultLines: 50,
		Refresher:    sched,
		Watcher:      watcher,
		MCPHandler: mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil),
		Logger: logger,
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		URL:     ts.URL,
		Client:  ts.Client(),
		AList:   fake,
		DataDir: dataDir,
		Sched:   sched,
		cancel:  cancel,
		done:    make(chan error, 1),
	}

	go func() { _ = watcher.Watch(ctx) }()
	go func() { h.done <- sched.Run(ctx) }()
	t.Cleanup(h.stop)

	return h
}

// stop cancels the service and waits for Run to return. Safe to call
// more than once.
func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
		}
	})
}

func (h *harness) getStatus(t *testing.T) status.Document {
	t.Helper()

	resp := h.do(t, http.MethodGet, "/api/status", false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc status.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

// waitForStatus polls /api/status until ok accepts the document.
func (h *harness) waitForStatus(t *testing.T, ok func(status.Document) bool) status.Document {
	t.Helper()

	var doc status.Document
	require.Eventually(t, func() bool {
		doc = h.getStatus(t)
		return ok(doc)
	}, 10*time.Second, 20*time.Millisecond, "status never matched")

	return doc
}

// waitForState polls /api/status until the document reaches want.
func (h *harness) waitForState(t *testing.T, want string) status.Document {
	t.Helper()
	return h.waitForStatus(t, func(doc status.Document) bool { return doc.State == want })
}

func (h *harness) do(t *testing.T, method, p string, withAuth bool) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, h.URL+p, bytes.NewReader(nil))
	require.NoError(t, err)
	if withAuth {
		req.SetBasicAuth(monitorUser, monitorPass)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// basicAuthTransport adds monitoring credentials to every request.
type basicAuthTransport struct {
	base http.RoundTripper
}

func (bt *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(monitorUser, monitorPass)
	return bt.base.RoundTrip(req)
}

// mcpSession creates an MCP client session using the monitoring
// credentials over the streamable HTTP transport.
func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &basicAuthTransport{base: h.Client.Transport},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-test-client", Version: "test"}, nil)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// extractTextContent returns the text of the first content block.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

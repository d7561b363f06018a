package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/strand-ai/strand/internal/core"
	"github.com/strand-ai/strand/internal/dispatch"
	"github.com/strand-ai/strand/internal/permission"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/internal/server"
	"github.com/strand-ai/strand/internal/storage"
	"github.com/strand-ai/strand/pkg/types"
)

type harness struct {
	core  *core.Core
	store *storage.Store
	ts    *httptest.Server
}

func newHarness(transport provider.Transport, opts core.Options) *harness {
	GinkgoHelper()
	if opts.Store == nil {
		opts.Store = storage.New(GinkgoT().TempDir())
	}
	cfg := types.DefaultConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Retry.InitialInterval = time.Millisecond

	c := core.New(cfg, transport, opts)
	srv := server.New(types.ServerConfig{Host: "127.0.0.1", Port: 0}, c)
	ts := httptest.NewServer(srv.Router())
	DeferCleanup(func() {
		ts.Close()
		c.Shutdown()
	})
	return &harness{core: c, store: opts.Store, ts: ts}
}

func (h *harness) post(path string, body any, out any) int {
	GinkgoHelper()
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(raw))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func (h *harness) get(path string, out any) int {
	GinkgoHelper()
	resp, err := http.Get(h.ts.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func (h *harness) createSession(spec core.CreateSpec) types.SessionInfo {
	GinkgoHelper()
	var info types.SessionInfo
	Expect(h.post("/session", spec, &info)).To(Equal(http.StatusCreated))
	Expect(info.ID).NotTo(BeEmpty())
	return info
}

// waitForAsk blocks until the session has a pending ask on the queue.
func (h *harness) waitForAsk(sessionID string) {
	GinkgoHelper()
	Eventually(func() bool {
		var summary types.SessionSummary
		if h.get("/session/"+sessionID, &summary) != http.StatusOK {
			return false
		}
		return summary.PendingAsk != nil
	}, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
}

// waitForDisposal blocks until the session has left the registry.
func (h *harness) waitForDisposal(sessionID string) {
	GinkgoHelper()
	Eventually(func() int {
		return h.get("/session/"+sessionID, nil)
	}, 5*time.Second, 10*time.Millisecond).Should(Equal(http.StatusNotFound))
}

type shellTool struct{ calls atomic.Int32 }

func (s *shellTool) Name() string                { return "shell" }
func (s *shellTool) Description() string         { return "runs a shell command" }
func (s *shellTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *shellTool) Execute(ctx context.Context, args json.RawMessage, tctx *dispatch.Context) (*dispatch.Result, error) {
	s.calls.Add(1)
	return &dispatch.Result{Output: "ok"}, nil
}

var _ = Describe("Session lifecycle", func() {
	It("runs a prompt to completion and persists the transcript", func() {
		h := newHarness(provider.EchoTransport{}, core.Options{})

		info := h.createSession(core.CreateSpec{Prompt: "say hello"})
		h.waitForDisposal(info.ID)

		saved, err := h.store.LoadInfo(info.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.RootID).To(Equal(info.ID))

		messages, err := h.store.LoadMessages(info.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).NotTo(BeEmpty())
		Expect(messages[0].Role).To(Equal(types.RoleUser))
		Expect(messages[0].Text()).To(Equal("say hello"))

		var completed bool
		for _, m := range messages {
			if m.Completion() != nil {
				completed = true
			}
		}
		Expect(completed).To(BeTrue(), "transcript should record the completion")
	})

	It("keeps the active list empty once everything finished", func() {
		h := newHarness(provider.EchoTransport{}, core.Options{})

		info := h.createSession(core.CreateSpec{Prompt: "quick job"})
		h.waitForDisposal(info.ID)

		var active []types.SessionSummary
		Expect(h.get("/session", &active)).To(Equal(http.StatusOK))
		Expect(active).To(BeEmpty())
	})
})

var _ = Describe("Approval flow", func() {
	var (
		h    *harness
		tool *shellTool
	)

	BeforeEach(func() {
		tool = &shellTool{}
		transport := provider.NewScriptedTransport(
			provider.ToolCallTurn("c1", "shell", map[string]string{"command": "ls"}),
			provider.CompletionTurn("c2", "listed files"),
		)
		h = newHarness(transport, core.Options{
			Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
			Tools:  []dispatch.Tool{tool},
		})
	})

	It("holds the tool call until the human approves", func() {
		info := h.createSession(core.CreateSpec{Prompt: "list the files"})
		h.waitForAsk(info.ID)

		Expect(tool.calls.Load()).To(BeZero(), "tool must not run before approval")

		var status types.AskQueueStatus
		Expect(h.get("/asks", &status)).To(Equal(http.StatusOK))
		Expect(status.Size).To(Equal(1))

		code := h.post(fmt.Sprintf("/session/%s/respond", info.ID), types.AskResponse{Approved: true}, nil)
		Expect(code).To(Equal(http.StatusOK))

		h.waitForDisposal(info.ID)
		Expect(tool.calls.Load()).To(Equal(int32(1)))

		var metrics types.AskMetrics
		Expect(h.get("/metrics", &metrics)).To(Equal(http.StatusOK))
		Expect(metrics.TotalAsks).To(Equal(int64(1)))
	})

	It("records a tool error when the human denies", func() {
		info := h.createSession(core.CreateSpec{Prompt: "list the files"})
		h.waitForAsk(info.ID)

		code := h.post(fmt.Sprintf("/session/%s/respond", info.ID), types.AskResponse{Approved: false}, nil)
		Expect(code).To(Equal(http.StatusOK))

		h.waitForDisposal(info.ID)
		Expect(tool.calls.Load()).To(BeZero())
	})

	It("aborts the session when the human says stop", func() {
		info := h.createSession(core.CreateSpec{Prompt: "list the files"})
		h.waitForAsk(info.ID)

		code := h.post(fmt.Sprintf("/session/%s/respond", info.ID),
			types.AskResponse{Approved: false, Stop: true}, nil)
		Expect(code).To(Equal(http.StatusOK))

		h.waitForDisposal(info.ID)
		Expect(tool.calls.Load()).To(BeZero())
	})
})

var _ = Describe("Nested sessions", func() {
	It("pauses the parent while a nested child runs", func() {
		tool := &shellTool{}
		transport := provider.NewScriptedTransport(
			provider.ToolCallTurn("p1", "shell", map[string]string{"command": "make"}), // parent
			provider.CompletionTurn("ch1", "child done"),                              // child
			provider.CompletionTurn("p2", "parent done"),                              // parent after resume
		)
		h := newHarness(transport, core.Options{
			Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
			Tools:  []dispatch.Tool{tool},
		})

		parent := h.createSession(core.CreateSpec{Prompt: "build it"})
		h.waitForAsk(parent.ID)

		child := h.createSession(core.CreateSpec{ParentID: &parent.ID, Prompt: "prepare"})
		Expect(child.RootID).To(Equal(parent.ID))
		Expect(child.Sequence).To(Equal(1))

		h.waitForDisposal(child.ID)

		// Parent is still alive with its ask pending; approve and finish.
		var summary types.SessionSummary
		Expect(h.get("/session/"+parent.ID, &summary)).To(Equal(http.StatusOK))
		Expect(summary.PendingAsk).NotTo(BeNil())

		code := h.post(fmt.Sprintf("/session/%s/respond", parent.ID), types.AskResponse{Approved: true}, nil)
		Expect(code).To(Equal(http.StatusOK))
		h.waitForDisposal(parent.ID)
		Expect(tool.calls.Load()).To(Equal(int32(1)))
	})
})

var _ = Describe("Abort", func() {
	It("tears down a session waiting on an ask", func() {
		transport := provider.NewScriptedTransport(
			provider.ToolCallTurn("c1", "shell", map[string]string{"command": "rm"}),
		)
		tool := &shellTool{}
		h := newHarness(transport, core.Options{
			Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
			Tools:  []dispatch.Tool{tool},
		})

		info := h.createSession(core.CreateSpec{Prompt: "clean up"})
		h.waitForAsk(info.ID)

		Expect(h.post(fmt.Sprintf("/session/%s/abort", info.ID), struct{}{}, nil)).To(Equal(http.StatusOK))
		h.waitForDisposal(info.ID)

		var status types.AskQueueStatus
		Expect(h.get("/asks", &status)).To(Equal(http.StatusOK))
		Expect(status.Size).To(BeZero(), "aborting withdraws the pending ask")
		Expect(tool.calls.Load()).To(BeZero())
	})
})

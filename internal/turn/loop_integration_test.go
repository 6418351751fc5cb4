package turn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/history"
	"github.com/openloop-ai/openloop/internal/provider"
	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/internal/tool"
	"github.com/openloop-ai/openloop/pkg/types"
)

func TestTurnLoopIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Turn Loop Integration Suite")
}

// eventRecorder collects bus events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) record(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == event.TurnFinished {
			out = append(out, ev.Data.(event.TurnFinishedData).Outcome)
		}
	}
	return out
}

var _ = Describe("autonomous turn loop", func() {
	var (
		workDir    string
		window     *history.Window
		dispatcher *tool.Dispatcher
		prov       *provider.ScriptedProvider
		controller *Controller
		recorder   *eventRecorder
		unsub      func()
	)

	todoLine := func(items string) string {
		return `{"tool": "todowrite", "args": {"todos": [` + items + `]}}` + "\n"
	}

	BeforeEach(func() {
		event.Reset()
		recorder = &eventRecorder{}
		unsub = event.SubscribeAll(recorder.record)

		workDir = GinkgoT().TempDir()
		window = history.New(history.Config{
			SessionID:  "it-session",
			ModelLimit: types.DefaultModelLimit,
			KeepRecent: types.DefaultKeepRecentTurns,
			Store:      storage.New(GinkgoT().TempDir()),
		})
		window.Append(types.Message{Role: types.RoleSystem, Content: "You are an autonomous assistant."})

		dispatcher = tool.NewDispatcher(tool.NewContext("it-session", workDir, nil))

		prov = provider.NewScripted(
			// Plan the work. The prose is split mid-rune across chunks to
			// exercise decoder reassembly end to end.
			provider.ScriptedResponse{Chunks: []string{
				"Planning \xe8\xae",
				"\xa1\xe5\x88\x92.\n",
				todoLine(`{"content": "write hello.txt", "status": "pending"}, {"content": "confirm contents", "status": "pending"}`),
			}},
			// Premature finish: the checklist is still open.
			provider.ScriptedResponse{Chunks: []string{
				`{"tool": "finish", "args": {"text": "done early"}}` + "\n",
			}},
			// Do the work and close out the checklist.
			provider.ScriptedResponse{Chunks: []string{
				"Writing the file now.\n",
				`{"tool": "write", "args": {"path": "hello.txt", "content": "hello from the loop"}}` + "\n",
				todoLine(`{"content": "write hello.txt", "status": "completed"}, {"content": "confirm contents", "status": "completed"}`),
			}},
			// Finish for real.
			provider.ScriptedResponse{Chunks: []string{
				`{"tool": "finish", "args": {"text": "Both tasks are complete."}}` + "\n",
			}},
			// Closing prose plus a decorative footer.
			provider.ScriptedResponse{Chunks: []string{
				"All tasks complete.\n⏱ 12.3s | 💭 1.0s\n",
			}},
		)

		controller = NewController(Options{
			Provider:   prov,
			Window:     window,
			Dispatcher: dispatcher,
			Runtime: types.RuntimeConfig{
				Autonomous:      true,
				FinalOutputTool: "finish",
			},
		})
		controller.newBackoff = func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}
	})

	AfterEach(func() {
		controller.Close()
		unsub()
		event.Reset()
	})

	It("plans, executes, gates, and finishes in one turn", func() {
		out, err := controller.Run(context.Background(), "Create hello.txt and confirm it.")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.State).To(Equal(StateDone))
		Expect(out.Response).To(ContainSubstring("All tasks complete."))

		By("running all five request rounds")
		Expect(prov.Requests).To(HaveLen(5))

		By("executing the workspace write for real")
		data, err := os.ReadFile(filepath.Join(workDir, "hello.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello from the loop"))

		By("persisting a fully completed checklist")
		list, err := tool.ReadChecklist(tool.ChecklistPath(workDir))
		Expect(err).NotTo(HaveOccurred())
		Expect(list.Items).To(HaveLen(2))
		Expect(list.Incomplete()).To(BeEmpty())

		By("rejecting the premature finish and executing the final one")
		var rejected, finished bool
		for _, m := range window.Messages() {
			if !m.Role.Is(types.RoleTool) {
				continue
			}
			if strings.Contains(m.Content, "final output rejected") {
				rejected = true
			}
			if strings.Contains(m.Content, "Both tasks are complete.") {
				finished = true
			}
		}
		Expect(rejected).To(BeTrue(), "premature finish should be gated")
		Expect(finished).To(BeTrue(), "finish should execute once the checklist is closed")

		By("reassembling the split multi-byte prose")
		var sawPlan bool
		for _, m := range window.Messages() {
			if m.Role.Is(types.RoleAssistant) && strings.Contains(m.Content, "Planning 计划.") {
				sawPlan = true
			}
		}
		Expect(sawPlan).To(BeTrue())

		By("never committing consecutive assistant messages")
		msgs := window.Messages()
		for i := 1; i < len(msgs); i++ {
			twoAssistants := msgs[i].Role.Is(types.RoleAssistant) && msgs[i-1].Role.Is(types.RoleAssistant)
			Expect(twoAssistants).To(BeFalse(), "messages %d and %d are both assistant", i-1, i)
		}

		By("publishing a done outcome on the bus")
		Eventually(recorder.outcomes).Should(ContainElement("done"))

		By("writing the session log for external inspection")
		var log types.SessionLog
		store := storageFromWindow(window)
		Expect(store.Get(context.Background(), []string{"session-log", "it-session"}, &log)).To(Succeed())
		Expect(log.ContextWindow.ConversationHistory).NotTo(BeEmpty())
	})
})

// storageFromWindow digs the store back out through a save round trip.
func storageFromWindow(w *history.Window) *storage.Storage {
	path, err := w.Save(context.Background())
	Expect(err).NotTo(HaveOccurred())
	base := filepath.Dir(filepath.Dir(path))
	return storage.New(base)
}

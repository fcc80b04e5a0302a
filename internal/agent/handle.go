package agent

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/pkg/claudecode"
)

const (
	controlTimeout    = 10 * time.Second
	terminateGrace    = 3 * time.Second
	eventsChannelSize = 256
)

// Handle is a live connection to one CLI subprocess. Events() yields the
// normalized per-turn stream; Done() fires when the subprocess or its read
// loop is gone (mid-turn this means a stream error).
type Handle struct {
	client *claudecode.Client
	cmd    *exec.Cmd
	permCB PermissionCallback
	logger *logger.Logger

	events chan Event
	done   chan struct{}
	exited chan struct{}

	// pendingText holds the last text block so the turn's final text can be
	// flagged when the result arrives. Touched only from the read loop.
	pendingText *TextEvent

	mu        sync.Mutex
	sessionID string
	model     string
	commands  []claudecode.SlashCommand
	released  bool
}

func newHandle(cmd *exec.Cmd, stdin io.Writer, stdout io.Reader, sessionID, model string, permCB PermissionCallback, log *logger.Logger) *Handle {
	h := &Handle{
		cmd:       cmd,
		permCB:    permCB,
		logger:    log.WithFields(zap.Int("pid", cmd.Process.Pid)),
		events:    make(chan Event, eventsChannelSize),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		sessionID: sessionID,
		model:     model,
	}
	h.client = claudecode.NewClient(stdin, stdout, log)
	h.client.SetMessageHandler(h.onMessage)
	h.client.SetRequestHandler(h.onControlRequest)
	return h
}

// start launches the read loop and subprocess reaper.
func (h *Handle) start(ctx context.Context) {
	<-h.client.Start(ctx)

	go func() {
		_ = h.cmd.Wait()
		close(h.exited)
		h.client.Stop()
	}()

	go func() {
		<-h.client.Done()
		close(h.done)
	}()
}

// Query writes a user message to the subprocess and returns immediately.
func (h *Handle) Query(text string) error {
	return h.client.SendUserMessage(text)
}

// Interrupt cancels the in-flight generation.
func (h *Handle) Interrupt(ctx context.Context) error {
	return h.client.Interrupt(ctx, controlTimeout)
}

// SetPermissionMode applies a permission mode to the live session.
func (h *Handle) SetPermissionMode(ctx context.Context, mode string) error {
	return h.client.SetPermissionMode(ctx, mode, controlTimeout)
}

// SetModel switches the live session's model.
func (h *Handle) SetModel(ctx context.Context, model string) error {
	if err := h.client.SetModel(ctx, model, controlTimeout); err != nil {
		return err
	}
	h.mu.Lock()
	h.model = model
	h.mu.Unlock()
	return nil
}

// Events returns the normalized event stream.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done fires when the subprocess connection is gone.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// SessionID returns the current Claude session id. It can change
// mid-conversation (e.g. after a compact).
func (h *Handle) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Model returns the model currently applied to the handle, if known.
func (h *Handle) Model() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model
}

// Commands returns the slash commands advertised during initialize.
func (h *Handle) Commands() []claudecode.SlashCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commands
}

func (h *Handle) setCommands(cmds []claudecode.SlashCommand) {
	h.mu.Lock()
	h.commands = cmds
	h.mu.Unlock()
}

// Release finalizes the subprocess asynchronously: stop the protocol client,
// SIGTERM the process group, escalate to SIGKILL after a grace period. It
// never blocks on the subprocess actually exiting.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	h.client.Stop()

	pid := h.cmd.Process.Pid
	go func() {
		if err := terminateProcessGroup(pid); err != nil {
			h.logger.Debug("terminate failed", zap.Error(err))
		}
		select {
		case <-h.exited:
			return
		case <-time.After(terminateGrace):
		}
		if err := killProcessGroup(pid); err != nil {
			h.logger.Debug("kill failed", zap.Error(err))
		}
	}()
}

// emit delivers an event unless the handle is already gone.
func (h *Handle) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Handle) onMessage(msg *claudecode.CLIMessage) {
	if msg.SessionID != "" {
		h.mu.Lock()
		if h.sessionID != msg.SessionID {
			h.logger.Debug("claude session id updated",
				zap.String("session_id", msg.SessionID))
		}
		h.sessionID = msg.SessionID
		h.mu.Unlock()
	}

	switch msg.Type {
	case claudecode.MessageTypeAssistant:
		h.onAssistantMessage(msg)
	case claudecode.MessageTypeUser:
		h.onUserMessage(msg)
	case claudecode.MessageTypeResult:
		h.onResultMessage(msg)
	}
}

func (h *Handle) onAssistantMessage(msg *claudecode.CLIMessage) {
	if msg.Message == nil {
		return
	}
	if msg.Message.Model != "" {
		h.mu.Lock()
		if h.model == "" {
			h.model = msg.Message.Model
		}
		h.mu.Unlock()
	}

	for _, block := range msg.Message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			h.bufferText(block.Text)
		case "tool_use":
			h.flushText(false)
			if block.Name == claudecode.ToolAskUserQuestion {
				h.emit(QuestionEvent{
					ToolUseID: block.ID,
					Questions: parseQuestions(block.Input),
				})
				// Question flows end the turn; answers arrive as the
				// next query.
				h.emit(TurnEndEvent{})
				continue
			}
			h.emit(ToolCallEvent{
				ToolID:   block.ID,
				ToolName: block.Name,
				Input:    block.Input,
			})
		}
	}
}

// onUserMessage handles tool results, which Claude Code sends back as user
// messages. String-content user messages (our own replayed queries, slash
// command echoes) carry no tool results and are skipped here.
func (h *Handle) onUserMessage(msg *claudecode.CLIMessage) {
	if msg.Message == nil {
		return
	}
	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		h.emit(ToolResultEvent{
			ToolID:  block.ToolUseID,
			Content: block.ResultText(),
			IsError: block.IsError,
		})
	}
}

func (h *Handle) onResultMessage(msg *claudecode.CLIMessage) {
	usage := &Usage{
		TotalCostUSD:      msg.CostUSD,
		TotalInputTokens:  msg.TotalInputTokens,
		TotalOutputTokens: msg.TotalOutputTokens,
		NumTurns:          msg.NumTurns,
	}

	if msg.IsError {
		h.flushText(false)
		errText := msg.GetResultString()
		if errText == "" && len(msg.Errors) > 0 {
			errText = msg.Errors[0]
		}
		h.emit(TurnEndEvent{IsError: true, ErrorText: errText, Usage: usage})
		return
	}

	h.flushText(true)
	h.emit(TurnEndEvent{Usage: usage})
}

// bufferText holds a text block back so it can be flagged final if the turn
// ends right after it.
func (h *Handle) bufferText(text string) {
	h.flushText(false)
	h.pendingText = &TextEvent{Content: text}
}

func (h *Handle) flushText(final bool) {
	if h.pendingText == nil {
		return
	}
	ev := *h.pendingText
	ev.IsFinal = final
	h.pendingText = nil
	h.emit(ev)
}

func (h *Handle) onControlRequest(requestID string, req *claudecode.ControlRequest) {
	// Run each control request on its own goroutine: permission decisions can
	// block for minutes while the read loop must keep serving control
	// round-trips.
	go func() {
		switch req.Subtype {
		case claudecode.SubtypeCanUseTool:
			h.answerPermission(requestID, req)
		default:
			// Hook callbacks and anything else: acknowledge and move on.
			h.respond(requestID, &claudecode.ControlResponse{Subtype: "success"})
		}
	}()
}

func (h *Handle) answerPermission(requestID string, req *claudecode.ControlRequest) {
	if h.permCB == nil {
		h.respond(requestID, &claudecode.ControlResponse{
			Subtype: "success",
			Result:  &claudecode.PermissionResult{Behavior: claudecode.BehaviorDeny, Message: "no permission handler"},
		})
		return
	}

	decision := h.permCB(&PermissionRequest{
		ToolName:  req.ToolName,
		Input:     req.Input,
		ToolUseID: req.ToolUseID,
	})

	result := &claudecode.PermissionResult{}
	if decision.Allow {
		result.Behavior = claudecode.BehaviorAllow
	} else {
		result.Behavior = claudecode.BehaviorDeny
		result.Message = decision.Message
		if decision.Interrupt {
			interrupt := true
			result.Interrupt = &interrupt
		}
	}

	h.respond(requestID, &claudecode.ControlResponse{Subtype: "success", Result: result})
}

func (h *Handle) respond(requestID string, resp *claudecode.ControlResponse) {
	if err := h.client.SendControlResponse(&claudecode.ControlResponseMessage{
		Type:      claudecode.MessageTypeControlResponse,
		RequestID: requestID,
		Response:  resp,
	}); err != nil {
		h.logger.Warn("failed to send control response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// parseQuestions decodes the AskUserQuestion input shape.
func parseQuestions(input map[string]any) []Question {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	var parsed struct {
		Questions []struct {
			Question string `json:"question"`
			Header   string `json:"header"`
			Options  []struct {
				Label       string `json:"label"`
				Description string `json:"description"`
			} `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}

	questions := make([]Question, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		question := Question{Text: q.Question, Header: q.Header}
		for _, o := range q.Options {
			question.Options = append(question.Options, Option{
				Label:       o.Label,
				Description: o.Description,
			})
		}
		questions = append(questions, question)
	}
	return questions
}

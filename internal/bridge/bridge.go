// Package bridge is the orchestrator: it owns the intake loop between
// the Signal transport and the companion service, the response
// composer, and the scheduled jobs (briefing, reminders, heartbeats,
// automations, maintenance).
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/choombridge/internal/backup"
	"github.com/nugget/choombridge/internal/calendar"
	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/commands"
	"github.com/nugget/choombridge/internal/conditions"
	"github.com/nugget/choombridge/internal/config"
	"github.com/nugget/choombridge/internal/connwatch"
	"github.com/nugget/choombridge/internal/contacts"
	"github.com/nugget/choombridge/internal/email"
	"github.com/nugget/choombridge/internal/homeassistant"
	"github.com/nugget/choombridge/internal/intent"
	"github.com/nugget/choombridge/internal/scheduler"
	"github.com/nugget/choombridge/internal/signalrpc"
	"github.com/nugget/choombridge/internal/speech"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// pollInterval paces the intake loop between notification drains.
const pollInterval = time.Second

// Options collects the bridge's collaborators. Signal, Chooms, Speech,
// Tasks, Scheduler, and Config are required; the rest are optional and
// disable their features when nil.
type Options struct {
	Config    *config.Config
	Signal    *signalrpc.Client
	Chooms    *choom.Client
	Speech    *speech.Client
	Tasks     *taskcfg.Store
	Scheduler *scheduler.Scheduler
	Calendar  *calendar.Client
	Contacts  *contacts.Client
	Email     *email.Client
	Backup    *backup.Client
	States    *homeassistant.StateCache
	Watch     *connwatch.Manager
	Location  *time.Location
	Logger    *slog.Logger
}

// Bridge routes owner messages to companions and runs the scheduled
// jobs. The intake loop is sequential; the scheduler fires jobs
// concurrently, sharing only the thread-safe collaborators.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	mu     sync.Mutex
	signal *signalrpc.Client
	active string // sticky companion

	chooms   *choom.Client
	speech   *speech.Client
	tasks    *taskcfg.Store
	sched    *scheduler.Scheduler
	cal      *calendar.Client
	people   *contacts.Client
	mail     *email.Client
	backup   *backup.Client
	watch    *connwatch.Manager
	interp   *commands.Interpreter
	eval     *conditions.Evaluator
	composer *Composer

	// hot-reload bookkeeping: schedule fingerprints of registered jobs
	hbSeen   map[string]string
	autoSeen map[string]string

	loc *time.Location
	now func() time.Time
}

// New wires a Bridge from its collaborators.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	b := &Bridge{
		cfg:      opts.Config,
		logger:   logger,
		signal:   opts.Signal,
		active:   opts.Config.Companion.DefaultName,
		chooms:   opts.Chooms,
		speech:   opts.Speech,
		tasks:    opts.Tasks,
		sched:    opts.Scheduler,
		cal:      opts.Calendar,
		people:   opts.Contacts,
		mail:     opts.Email,
		backup:   opts.Backup,
		watch:    opts.Watch,
		hbSeen:   make(map[string]string),
		autoSeen: make(map[string]string),
		loc:      loc,
		now:      time.Now,
	}

	var lists commands.TaskLists
	var cal commands.Calendar
	if opts.Calendar != nil {
		lists = opts.Calendar
		cal = opts.Calendar
	}
	b.interp = commands.New(lists, cal, b, logger)

	var states conditions.EntityStates
	if opts.States != nil {
		states = opts.States
	}
	b.eval = conditions.New(opts.Chooms, cal, states, opts.Config.Companion.Location, logger)

	b.composer = NewComposer(b, opts.Speech, opts.Chooms, opts.Config.TempDir, logger)
	return b
}

// transport returns the current Signal client.
func (b *Bridge) transport() *signalrpc.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal
}

// Send issues an outbound message over the current transport.
func (b *Bridge) Send(ctx context.Context, recipient, message string, attachments ...string) (int64, error) {
	return b.transport().Send(ctx, recipient, message, attachments...)
}

// Run is the intake loop. It drains notifications, processes owner
// messages sequentially, and reconnects when the transport drops. It
// returns when ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !b.transport().Connected() {
			if err := b.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.Warn("signal reconnect failed", "error", err)
				if !sleepCtx(ctx, time.Duration(b.cfg.Signal.ReconnectIntervalSec)*time.Second) {
					return ctx.Err()
				}
				continue
			}
		}

		for _, env := range b.transport().Drain() {
			b.handleEnvelope(ctx, env)
		}

		if !sleepCtx(ctx, pollInterval) {
			return ctx.Err()
		}
	}
}

func (b *Bridge) reconnect(ctx context.Context) error {
	old := b.transport()
	if old != nil {
		old.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.Signal.ConnectTimeoutSec)*time.Second)
	defer cancel()
	client, err := signalrpc.Dial(dialCtx, b.cfg.Signal.SocketPath, b.logger)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.signal = client
	b.mu.Unlock()
	b.logger.Info("signal transport connected", "socket", b.cfg.Signal.SocketPath)
	return nil
}

// handleEnvelope processes one inbound message end to end.
func (b *Bridge) handleEnvelope(ctx context.Context, env *signalrpc.Envelope) {
	intake, ok := signalrpc.ParseEnvelope(env)
	if !ok {
		return
	}
	if intake.Sender != b.cfg.Signal.OwnerNumber {
		b.logger.Debug("ignoring non-owner message", "sender", intake.Sender)
		return
	}

	transport := b.transport()
	if err := transport.SendTyping(ctx, intake.Sender, false); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}
	defer transport.SendTyping(ctx, intake.Sender, true)

	text := intake.Text
	if intake.VoiceNote() {
		transcribed, err := b.transcribeVoiceNote(ctx, intake.Attachments[0])
		if err != nil {
			b.logger.Error("voice note transcription failed", "error", err)
			b.compose(ctx, Outbound{Recipient: intake.Sender, Text: "Sorry, I couldn't understand that voice note."})
			return
		}
		text = transcribed
		b.logger.Info("voice note transcribed", "text", text)
	}

	text = b.prependImagePrompt(text, intake.Images())

	name, cleaned, addressed := intent.Resolve(text)

	// Commands bypass the LLM: the cleaned text first, the raw text as
	// fallback when name extraction ate part of a command phrase.
	if reply, handled := b.interp.Interpret(ctx, cleaned); handled {
		b.compose(ctx, Outbound{Recipient: intake.Sender, Text: reply})
		return
	}
	if cleaned != text {
		if reply, handled := b.interp.Interpret(ctx, text); handled {
			b.compose(ctx, Outbound{Recipient: intake.Sender, Text: reply})
			return
		}
	}

	// Side-effect pass for list mutations buried inside chatty messages.
	if note, mutated := b.interp.InlineMutation(ctx, cleaned); mutated {
		b.logger.Info("inline list mutation", "note", note)
	}

	active := b.activeCompanion(name, addressed)
	b.chooms.RecordUserActivity(active)

	turn, err := b.sendToCompanion(ctx, active, cleaned, false)
	if err != nil {
		b.logger.Error("companion turn failed", "companion", active, "error", err)
		b.compose(ctx, Outbound{
			Recipient: intake.Sender,
			Text:      b.companionErrorReply(ctx, active),
			Name:      active,
		})
		return
	}

	b.compose(ctx, Outbound{
		Recipient: intake.Sender,
		Text:      turn.Content,
		Name:      active,
		Images:    turn.Images,
	})
}

// activeCompanion applies the sticky-companion rule: an addressed name
// switches the target and stays until the next explicit address.
func (b *Bridge) activeCompanion(name string, addressed bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addressed {
		b.active = name
	}
	return b.active
}

func (b *Bridge) transcribeVoiceNote(ctx context.Context, att signalrpc.Attachment) (string, error) {
	path, err := signalrpc.AttachmentPath(b.cfg.Signal.ConfigPath, att.ID)
	if err != nil {
		return "", err
	}
	return b.speech.Transcribe(ctx, path)
}

// prependImagePrompt stashes image attachment paths into the message so
// the companion's vision tooling can reach them.
func (b *Bridge) prependImagePrompt(text string, images []signalrpc.Attachment) string {
	if len(images) == 0 {
		return text
	}
	var lines []string
	for _, att := range images {
		path, err := signalrpc.AttachmentPath(b.cfg.Signal.ConfigPath, att.ID)
		if err != nil {
			b.logger.Warn("attachment path rejected", "id", att.ID, "error", err)
			continue
		}
		lines = append(lines, fmt.Sprintf("[Image attached: %s]", path))
	}
	if len(lines) == 0 {
		return text
	}
	if strings.TrimSpace(text) == "" {
		text = "Please analyze this image."
	}
	return strings.Join(lines, "\n") + "\n" + text
}

// sendToCompanion runs one LLM turn with the merged settings block.
func (b *Bridge) sendToCompanion(ctx context.Context, name, message string, freshChat bool) (*choom.Turn, error) {
	ch, err := b.chooms.ByName(ctx, name)
	if err != nil {
		return nil, err
	}
	settings := choom.BuildSettings(b.tasks.Settings(), ch)
	return b.chooms.SendMessage(ctx, name, message, settings, freshChat)
}

// companionErrorReply names the available companions so a bad address
// is recoverable.
func (b *Bridge) companionErrorReply(ctx context.Context, name string) string {
	chooms, err := b.chooms.Chooms(ctx)
	if err != nil || len(chooms) == 0 {
		return "Sorry, I couldn't reach " + name + " right now."
	}
	names := make([]string, 0, len(chooms))
	for _, c := range chooms {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Sorry, I couldn't reach %s. Available companions: %s.", name, strings.Join(names, ", "))
}

// compose logs delivery failures; the intake loop never dies on a send.
func (b *Bridge) compose(ctx context.Context, out Outbound) {
	if err := b.composer.Compose(ctx, out); err != nil {
		b.logger.Error("compose failed", "recipient", out.Recipient, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Package assistant is the conversation core of Micro-Jarvis. The
// Orchestrator owns the single Session (active profile plus transcript),
// serializes every turn through one exclusive lock, builds the completion
// context and writes profile changes back to the store.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/profile"
)

// ProfileStore is the durable side of the profile.
type ProfileStore interface {
	FindOrCreate(ctx context.Context, externalID int64, displayName string) (profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) (profile.Profile, error)
}

// Completer produces a reply for a system context and the user's text.
type Completer interface {
	Complete(ctx context.Context, systemContext, userText string) (string, error)
}

// SavePolicy decides what happens to a reply when the profile save after
// it fails.
type SavePolicy int

const (
	// SaveFailOpen delivers the reply and reports a non-fatal PersistenceError.
	SaveFailOpen SavePolicy = iota

	// SaveFailClosed withholds the reply and undoes the unsaved change.
	SaveFailClosed
)

func (p SavePolicy) String() string {
	if p == SaveFailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// ParseSavePolicy maps the configuration value to a SavePolicy.
// The empty string selects SaveFailOpen.
func ParseSavePolicy(s string) (SavePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-open":
		return SaveFailOpen, nil
	case "fail-closed":
		return SaveFailClosed, nil
	default:
		return SaveFailOpen, fmt.Errorf("unknown save policy %q", s)
	}
}

// Options configures an Orchestrator.
type Options struct {
	// AllowedUserID is the only identity allowed to run commands.
	AllowedUserID int64

	// MaxContextEntries caps the transcript entries rendered into the
	// context (0 = all).
	MaxContextEntries int

	// SavePolicy applies to profile saves after a reply or a command.
	SavePolicy SavePolicy

	Logger *slog.Logger
}

// Orchestrator handles messages and commands against the one Session.
// It is safe for concurrent use; turns run one at a time.
type Orchestrator struct {
	store     ProfileStore
	completer Completer
	opts      Options
	logger    *slog.Logger

	// lock is a one-slot semaphore so waiting can honour ctx.
	lock    chan struct{}
	session *Session
}

// New creates an Orchestrator with an empty Session.
func New(store ProfileStore, completer Completer, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxContextEntries < 0 {
		opts.MaxContextEntries = 0
	}
	return &Orchestrator{
		store:     store,
		completer: completer,
		opts:      opts,
		logger:    logger.With("component", "assistant"),
		lock:      make(chan struct{}, 1),
		session:   newSession(),
	}
}

// HandleMessage runs one conversational turn for sender and returns the
// reply to deliver. An empty text is a no-op; whitespace is a message.
//
// A resolve failure returns a PersistenceError and no reply. A completion
// failure returns a CompletionError and no reply; the user's entry stays in
// the transcript. A failed save after the reply returns the reply together
// with a non-fatal PersistenceError under SaveFailOpen; under SaveFailClosed
// the reply is withheld and its transcript entry removed.
func (o *Orchestrator) HandleMessage(ctx context.Context, sender int64, displayName, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	if err := o.acquire(ctx); err != nil {
		return "", err
	}
	defer o.release()

	logger := loggerFrom(ctx, o.logger).With("sender", sender)

	p, err := o.store.FindOrCreate(ctx, sender, displayName)
	if err != nil {
		logger.Error("profile resolve failed", "error", err)
		return "", &PersistenceError{Op: "message", Stage: StageResolve, Err: err}
	}
	o.session.setProfile(p)
	o.session.append(text)

	systemContext := BuildContext(o.session.profile, o.session.transcript, o.opts.MaxContextEntries)
	logger.Debug("calling completion",
		"transcript_len", len(o.session.transcript),
		"context_len", len(systemContext),
		"text_len", len(text),
	)

	start := time.Now()
	reply, err := o.completer.Complete(ctx, systemContext, text)
	if err != nil {
		logger.Error("completion failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", &CompletionError{Err: err}
	}
	o.session.append(reply)

	logger.Info("turn completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"transcript_len", len(o.session.transcript),
	)

	if err := o.save(ctx); err != nil {
		pe := &PersistenceError{Op: "message", Stage: StageSave, Err: err}
		if o.opts.SavePolicy == SaveFailClosed {
			o.session.dropLast()
			pe.ReplyWithheld = true
			logger.Error("profile save failed, reply withheld", "error", err)
			return "", pe
		}
		logger.Warn("profile save failed, reply delivered", "error", err)
		return reply, pe
	}

	return reply, nil
}

// HandleCommand runs a command for sender and returns the reply to deliver.
// Senders other than the allow-listed identity get the rejection reply and
// an UnauthorizedError; nothing is read or changed for them. Commands never
// call the completion service.
func (o *Orchestrator) HandleCommand(ctx context.Context, sender int64, displayName string, cmd Command, arg string) (string, error) {
	logger := loggerFrom(ctx, o.logger).With("sender", sender, "command", string(cmd))

	if sender != o.opts.AllowedUserID {
		logger.Info("command rejected: sender not allowed")
		return replyUnauthorized, &UnauthorizedError{Sender: sender}
	}

	arg = strings.TrimSpace(arg)
	switch cmd {
	case CmdAddInterest:
		if arg == "" {
			return usageAddInterest, nil
		}
	case CmdAddGoal:
		if arg == "" {
			return usageAddGoal, nil
		}
	case CmdHelp, CmdStart:
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}

	if err := o.acquire(ctx); err != nil {
		return "", err
	}
	defer o.release()

	p, err := o.store.FindOrCreate(ctx, sender, displayName)
	if err != nil {
		logger.Error("profile resolve failed", "error", err)
		return "", &PersistenceError{Op: string(cmd), Stage: StageResolve, Err: err}
	}
	o.session.setProfile(p)

	switch cmd {
	case CmdHelp:
		return HelpText(), nil

	case CmdStart:
		o.session.reset()
		logger.Info("conversation reset")
		return replyStarted, nil

	case CmdAddInterest:
		return o.appendAndSave(ctx, logger, cmd, &o.session.profile.Interests, arg, replyInterestAdded)

	default: // CmdAddGoal
		return o.appendAndSave(ctx, logger, cmd, &o.session.profile.Goals, arg, replyGoalAdded)
	}
}

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := o.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	defer o.release()
	return o.session.snapshot(), nil
}

// appendAndSave appends value to seq, saves the profile and replies with
// confirm. Under SaveFailClosed a failed save undoes the append and
// withholds the confirmation.
func (o *Orchestrator) appendAndSave(ctx context.Context, logger *slog.Logger, cmd Command, seq *[]string, value, confirm string) (string, error) {
	*seq = append(*seq, value)

	if err := o.save(ctx); err != nil {
		pe := &PersistenceError{Op: string(cmd), Stage: StageSave, Err: err}
		if o.opts.SavePolicy == SaveFailClosed {
			*seq = (*seq)[:len(*seq)-1]
			pe.ReplyWithheld = true
			logger.Error("profile save failed, change reverted", "error", err)
			return "", pe
		}
		logger.Warn("profile save failed, change kept locally", "error", err)
		return confirm, pe
	}

	logger.Info("profile updated",
		"interests", len(o.session.profile.Interests),
		"goals", len(o.session.profile.Goals),
	)
	return confirm, nil
}

// save writes the session profile back and adopts the stored copy.
// Must be called with the lock held.
func (o *Orchestrator) save(ctx context.Context) error {
	saved, err := o.store.Save(ctx, o.session.profile.Clone())
	if err != nil {
		return err
	}
	o.session.setProfile(saved)
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session: %w", ctx.Err())
	}
}

func (o *Orchestrator) release() {
	<-o.lock
}

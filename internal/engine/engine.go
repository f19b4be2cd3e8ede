// Package engine implements the turn-taking orchestrator for a voice-driven
// exam session. A single event loop owns all session state: speech output
// completions, speech input results, recognized commands, keyboard
// fallbacks, and timer events all arrive as messages on one channel, so no
// transition ever races another.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/command"
	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/exam"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
	"github.com/23331a4722/voice-ed-exams/internal/session"
	"github.com/23331a4722/voice-ed-exams/internal/stt"
	"github.com/23331a4722/voice-ed-exams/internal/tts"
)

// SpeechOutput is the engine's view of the playback channel. Speak blocks
// until the utterance finishes, is displaced, or fails; Cancel is always
// safe to call, including when nothing is playing.
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}

// SpeechInput is the engine's view of the capture channel. Start while
// already active and Stop while idle are both no-ops.
type SpeechInput interface {
	Start() error
	Stop() error
	SendAudio(data []byte) error
	Events() <-chan stt.Event
}

// Callbacks deliver engine output to the transport layer. All callbacks are
// invoked from the event loop; nil callbacks are skipped.
type Callbacks struct {
	OnStateChange    func(state State)
	OnTranscript     func(text string, final bool)
	OnAnswerChange   func(index int, text string)
	OnQuestionChange func(index int, question exam.Question)
	OnAlert          func(secondsRemaining int)
	OnNotice         func(category, message string)
	OnSubmitted      func()
}

type eventKind int

const (
	evSpeechDone eventKind = iota
	evGraceElapsed
	evTranscript
	evInputError
	evAction
	evSettle
	evCommandText
	evTimer
)

type engineEvent struct {
	kind    eventKind
	gen     uint64
	err     error
	errKind stt.ErrorKind
	text    string
	final   bool
	action  actionKind
	timer   TimerEvent
}

// Params collects everything an Engine needs. Exam and Questions come from
// the exam provider; Output, Input and Store are live collaborators.
type Params struct {
	Config    *config.Config
	Exam      *exam.Exam
	Questions []exam.Question
	Output    SpeechOutput
	Input     SpeechInput
	Store     session.Store
	Callbacks Callbacks
	Metrics   *observability.Metrics
}

// Engine is the turn-taking state machine. Construct with New, drive with
// Run; external inputs arrive through SendAudio, HandleCommandText and
// HandleKey.
type Engine struct {
	cfg        *config.Config
	exam       *exam.Exam
	questions  []exam.Question
	output     SpeechOutput
	input      SpeechInput
	store      session.Store
	recognizer *command.Recognizer
	callbacks  Callbacks
	metrics    *observability.Metrics
	logger     zerolog.Logger

	ctx    context.Context
	events chan engineEvent
	writes chan storeWrite
	timer  *SessionTimer

	state       State
	current     int
	answers     *AnswerSet
	speechGen   uint64
	inputActive bool
	inFlight    bool
	pending     actionKind
	noticeSeen  map[string]bool
}

// New builds an engine in the Announcing state. Run must be called to start
// the session.
func New(p Params) (*Engine, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.Exam == nil || len(p.Questions) == 0 {
		return nil, errors.New("exam with at least one question is required")
	}
	if p.Output == nil || p.Input == nil || p.Store == nil {
		return nil, errors.New("output, input and store are required")
	}

	e := &Engine{
		cfg:        p.Config,
		exam:       p.Exam,
		questions:  p.Questions,
		output:     p.Output,
		input:      p.Input,
		store:      p.Store,
		callbacks:  p.Callbacks,
		metrics:    p.Metrics,
		logger:     observability.GetLogger().With().Str("component", "engine").Str("exam_id", p.Exam.ID).Logger(),
		ctx:        context.Background(),
		events:     make(chan engineEvent, 64),
		writes:     make(chan storeWrite, 64),
		timer:      NewSessionTimer(p.Exam.DurationSeconds, p.Config.AlertThresholds, p.Config.CheckpointIntervalSeconds),
		state:      StateAnnouncing,
		answers:    NewAnswerSet(len(p.Questions)),
		noticeSeen: make(map[string]bool),
	}
	e.recognizer = command.NewRecognizer(e.commandTable())
	return e, nil
}

// commandTable is the fixed voice vocabulary. More specific commands come
// before generic ones because the recognizer matches in table order.
func (e *Engine) commandTable() []command.Command {
	post := func(a actionKind) func() {
		return func() { e.post(engineEvent{kind: evAction, action: a}) }
	}
	return []command.Command{
		{Name: "next", Keywords: []string{"next question", "next", "skip"}, Action: post(actionNext)},
		{Name: "previous", Keywords: []string{"previous question", "previous", "back"}, Action: post(actionPrevious)},
		{Name: "repeat", Keywords: []string{"repeat question", "repeat", "say again", "read again"}, Action: post(actionRepeat)},
		{Name: "clear", Keywords: []string{"clear answer", "delete answer"}, Action: post(actionClear)},
		// stop_recording precedes start_recording: "stop recording" contains
		// the "record" keyword and must not resolve to a start.
		{Name: "stop_recording", Keywords: []string{"stop recording", "stop"}, Action: post(actionStopRecording)},
		{Name: "start_recording", Keywords: []string{"start recording", "record"}, Action: post(actionStartRecording)},
		{Name: "submit", Keywords: []string{"submit exam", "submit", "finish"}, Action: post(actionSubmit)},
		{Name: "help", Keywords: []string{"help", "commands"}, Action: post(actionHelp)},
	}
}

// Run resumes or creates the session checkpoint, starts the timer and input
// pump, and processes events until the session is submitted or the context
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = runCtx

	cp, saved, err := e.store.CreateOrResume(runCtx, len(e.questions))
	if err != nil {
		return fmt.Errorf("failed to establish session: %w", err)
	}
	e.current = clampIndex(cp.CurrentQuestion, len(e.questions))
	e.answers.Restore(saved)
	e.timer = NewSessionTimer(cp.TimeRemaining, e.cfg.AlertThresholds, e.cfg.CheckpointIntervalSeconds)

	if e.metrics != nil {
		e.metrics.RecordSessionStart()
	}
	e.logger.Info().
		Str("session_id", cp.SessionID).
		Int("question", e.current).
		Int("time_remaining", cp.TimeRemaining).
		Msg("Session started")

	go e.timer.Run(runCtx, func(ev TimerEvent) {
		e.post(engineEvent{kind: evTimer, timer: ev})
	})
	go e.pumpInput(runCtx)
	go e.writePump(runCtx)

	e.setState(StateAnnouncing)
	e.notifyQuestion()
	e.speak(e.announcementText())

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case ev := <-e.events:
			e.dispatch(ev)
			if e.state == StateSubmitted {
				return nil
			}
		}
	}
}

// SendAudio forwards captured audio to the speech input channel. Safe to
// call from transport goroutines.
func (e *Engine) SendAudio(data []byte) error {
	return e.input.SendAudio(data)
}

// HandleCommandText runs explicit command text (typed or sent by the client)
// through the recognizer. Unlike recording-mode transcripts, unmatched text
// here produces a "not recognized" help notice instead of being treated as
// answer content.
func (e *Engine) HandleCommandText(text string) {
	e.post(engineEvent{kind: evCommandText, text: text})
}

// HandleKey maps keyboard fallback keys onto command actions.
func (e *Engine) HandleKey(key string) {
	switch key {
	case "arrow-right":
		e.post(engineEvent{kind: evAction, action: actionNext})
	case "arrow-left":
		e.post(engineEvent{kind: evAction, action: actionPrevious})
	case "space":
		e.post(engineEvent{kind: evAction, action: actionToggleRecording})
	case "r":
		e.post(engineEvent{kind: evAction, action: actionRepeat})
	default:
		e.logger.Debug().Str("key", key).Msg("Ignoring unmapped key")
	}
}

func (e *Engine) post(ev engineEvent) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) pumpInput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.input.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case stt.EventPartial:
				e.post(engineEvent{kind: evTranscript, text: ev.Text, final: false})
			case stt.EventFinal:
				if e.metrics != nil {
					e.metrics.RecordSTTResult(true)
				}
				e.post(engineEvent{kind: evTranscript, text: ev.Text, final: true})
			case stt.EventError:
				if e.metrics != nil {
					e.metrics.RecordSTTResult(false)
				}
				e.post(engineEvent{kind: evInputError, errKind: ev.Err})
			}
		}
	}
}

func (e *Engine) dispatch(ev engineEvent) {
	switch ev.kind {
	case evSpeechDone:
		e.handleSpeechDone(ev)
	case evGraceElapsed:
		e.handleGraceElapsed(ev)
	case evTranscript:
		e.handleTranscript(ev)
	case evInputError:
		e.handleInputError(ev.errKind)
	case evAction:
		e.handleAction(ev.action)
	case evSettle:
		e.handleSettle(ev.action)
	case evCommandText:
		e.handleCommandText(ev.text)
	case evTimer:
		e.handleTimer(ev.timer)
	}
}

func (e *Engine) handleSpeechDone(ev engineEvent) {
	if ev.gen != e.speechGen {
		// A later utterance displaced this one; its completion is stale.
		return
	}
	if ev.err != nil {
		if errors.Is(ev.err, tts.ErrCancelled) {
			return
		}
		// Playback failed, but stalling here would strand the user in
		// silence. Proceed exactly as if the utterance completed.
		e.logger.Warn().Err(ev.err).Msg("Speech output failed, continuing")
		e.notice("speech-output", "Audio playback failed. The exam will continue.")
	}

	switch e.state {
	case StateAnnouncing:
		e.enterSpeaking()
	case StateSpeaking:
		gen := e.speechGen
		delay := time.Duration(e.cfg.RecordGraceDelayMs) * time.Millisecond
		time.AfterFunc(delay, func() {
			e.post(engineEvent{kind: evGraceElapsed, gen: gen})
		})
	}
}

func (e *Engine) handleGraceElapsed(ev engineEvent) {
	if ev.gen != e.speechGen || e.state != StateSpeaking {
		return
	}
	e.enterRecording()
}

func (e *Engine) handleTranscript(ev engineEvent) {
	e.emitTranscript(ev.text, ev.final)
	if !ev.final {
		// Partials are a live preview only, never persisted.
		return
	}
	if e.state != StateRecording {
		e.logger.Debug().Str("text", ev.text).Msg("Dropping final transcript outside recording state")
		return
	}

	// The full segment lands in the answer even when it also matches a
	// command. Stripping the command span from a run-on transcript needs
	// more speech context than the engine has, so command text may leak
	// into the stored answer.
	updated := e.answers.Append(e.current, ev.text)
	e.emitAnswer(e.current, updated)
	e.saveAnswerAsync(e.current, updated)

	if cmd, ok := e.recognizer.Interpret(ev.text); ok {
		e.logger.Debug().Str("command", cmd.Name).Str("text", ev.text).Msg("Command recognized in answer stream")
		if e.metrics != nil {
			e.metrics.RecordCommandMatch(cmd.Name)
		}
		cmd.Action()
	} else if e.metrics != nil {
		e.metrics.RecordCommandMiss()
	}
}

func (e *Engine) handleCommandText(text string) {
	cmd, ok := e.recognizer.Interpret(text)
	if !ok {
		if e.metrics != nil {
			e.metrics.RecordCommandMiss()
		}
		e.notice("command", "Command not recognized. Say next, previous, repeat, clear answer, start recording, stop recording, or submit.")
		if e.state == StateRecording {
			e.speak("I didn't catch that command. You can say next, previous, repeat, or submit.")
		}
		return
	}
	if e.metrics != nil {
		e.metrics.RecordCommandMatch(cmd.Name)
	}
	cmd.Action()
}

func (e *Engine) handleInputError(kind stt.ErrorKind) {
	if kind.Benign() {
		// Includes aborted: post-stop aborts are filtered at the input
		// layer, and the rest do not interrupt the turn.
		e.logger.Debug().Str("kind", string(kind)).Msg("Benign input error, recognition continues")
		return
	}
	e.stopInput()
	switch kind {
	case stt.ErrorAudioCapture:
		e.notice("audio-capture", "No microphone detected. Use the keyboard controls to continue.")
	case stt.ErrorNotAllowed:
		e.notice("not-allowed", "Microphone access was denied. Grant permission and say start recording.")
	default:
		e.notice("input", "Speech recognition stopped unexpectedly. Say start recording to resume.")
	}
	if e.metrics != nil {
		e.metrics.RecordError(string(kind), "engine")
	}
}

// handleAction applies a transition request. While a prior transition is
// settling, at most one action is buffered, last writer wins. On settle an
// action identical to the one that just ran is dropped as an echo, so a
// rapid "next, next" burst advances exactly one question.
func (e *Engine) handleAction(a actionKind) {
	if e.state == StateSubmitting || e.state == StateSubmitted {
		return
	}
	if e.inFlight {
		e.logger.Debug().Str("action", a.String()).Msg("Buffering action behind in-flight transition")
		e.pending = a
		return
	}

	switch a {
	case actionNext:
		e.moveQuestion(1, a)
	case actionPrevious:
		e.moveQuestion(-1, a)
	case actionRepeat:
		e.beginTransition(a)
		e.enterSpeaking()
		e.settleAfter(a)
	case actionClear:
		e.answers.Set(e.current, "")
		e.emitAnswer(e.current, "")
		e.saveAnswerAsync(e.current, "")
	case actionStartRecording:
		if e.state == StateSpeaking || e.state == StateAnnouncing {
			e.bumpSpeech()
			e.output.Cancel()
		}
		e.enterRecording()
	case actionStopRecording:
		e.stopInput()
	case actionToggleRecording:
		if e.inputActive {
			e.stopInput()
		} else {
			if e.state == StateSpeaking || e.state == StateAnnouncing {
				e.bumpSpeech()
				e.output.Cancel()
			}
			e.enterRecording()
		}
	case actionSubmit:
		e.submit()
	case actionHelp:
		// Help displaces whatever is playing; the user can ask for a repeat
		// afterwards. Recording keeps running.
		e.speak(e.helpText())
	}
}

func (e *Engine) handleSettle(settled actionKind) {
	e.inFlight = false
	p := e.pending
	e.pending = actionNone
	if p == actionNone {
		return
	}
	if p == settled {
		e.logger.Debug().Str("action", p.String()).Msg("Dropping duplicate command received during transition")
		return
	}
	e.handleAction(p)
}

func (e *Engine) handleTimer(ev TimerEvent) {
	switch ev.Kind {
	case TimerAlert:
		e.logger.Info().Int("remaining", ev.Remaining).Int("threshold", ev.Threshold).Msg("Time alert")
		if e.callbacks.OnAlert != nil {
			e.callbacks.OnAlert(ev.Remaining)
		}
	case TimerCheckpoint:
		e.checkpointAsync(ev.Remaining)
	case TimerExpired:
		e.logger.Info().Msg("Time expired, forcing submit")
		e.notice("timer", "Time is up. Submitting your exam.")
		// Expiry outranks everything, including a settling transition.
		e.inFlight = false
		e.pending = actionNone
		e.submit()
	}
}

func (e *Engine) moveQuestion(delta int, a actionKind) {
	target := e.current + delta
	if target < 0 || target >= len(e.questions) {
		e.logger.Debug().Int("target", target).Msg("Navigation out of range, ignoring")
		return
	}
	e.beginTransition(a)
	e.current = target
	e.noticeSeen = make(map[string]bool)
	e.notifyQuestion()
	e.checkpointAsync(e.timer.Remaining())
	e.enterSpeaking()
	e.settleAfter(a)
}

// beginTransition stops both channels before the state changes. Completions
// from the displaced utterance are made stale by bumping the generation.
func (e *Engine) beginTransition(a actionKind) {
	e.inFlight = true
	e.stopInput()
	e.bumpSpeech()
	e.output.Cancel()
	e.logger.Debug().Str("action", a.String()).Msg("Transition started")
}

// settleAfter posts the settle marker behind any events already queued, so
// commands that raced the transition are buffered before the settle runs.
func (e *Engine) settleAfter(a actionKind) {
	e.post(engineEvent{kind: evSettle, action: a})
}

func (e *Engine) enterSpeaking() {
	e.setState(StateSpeaking)
	e.speak(e.questionText(e.questions[e.current]))
}

func (e *Engine) enterRecording() {
	e.setState(StateRecording)
	if e.inputActive {
		return
	}
	if err := e.input.Start(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to start speech input")
		e.notice("audio-capture", "Could not start the microphone. Use the keyboard controls to continue.")
		return
	}
	e.inputActive = true
}

func (e *Engine) stopInput() {
	if !e.inputActive {
		return
	}
	if err := e.input.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to stop speech input")
	}
	e.inputActive = false
}

func (e *Engine) submit() {
	if e.state == StateSubmitting || e.state == StateSubmitted {
		return
	}
	e.stopInput()
	e.bumpSpeech()
	e.output.Cancel()
	e.setState(StateSubmitting)

	// Queued answer and progress writes must land before the terminal
	// status write, or a cleared answer could be resurrected by a late save.
	e.flushWrites()

	if err := e.store.Finalize(e.ctx, e.timer.Remaining()); err != nil {
		// The session still ends locally; the write is the store's problem
		// to report. Navigation must never hang on persistence.
		e.logger.Error().Err(err).Msg("Failed to finalize session")
		e.notice("persistence", "Your answers are saved locally but the final submission could not be confirmed.")
	}

	e.setState(StateSubmitted)
	if e.callbacks.OnSubmitted != nil {
		e.callbacks.OnSubmitted()
	}
	if e.metrics != nil {
		e.metrics.RecordSessionEnd()
	}
	e.logger.Info().Msg("Session submitted")
}

// speak starts an utterance on a fresh generation. Completion arrives as an
// evSpeechDone event; completions from older generations are ignored.
func (e *Engine) speak(text string) {
	gen := e.bumpSpeech()
	go func() {
		if e.metrics != nil {
			e.metrics.RecordSynthesisStart()
		}
		err := e.output.Speak(e.ctx, text)
		if e.metrics != nil {
			// A displaced utterance is a normal outcome, not a synthesis failure.
			e.metrics.RecordSynthesisEnd(err == nil || errors.Is(err, tts.ErrCancelled))
		}
		e.post(engineEvent{kind: evSpeechDone, gen: gen, err: err})
	}()
}

func (e *Engine) bumpSpeech() uint64 {
	e.speechGen++
	return e.speechGen
}

// storeWrite is one queued persistence operation. Writes run on a single
// pump goroutine in submission order; a flush marker lets the submit path
// wait for everything ahead of it to land before finalizing.
type storeWrite struct {
	answer    bool
	index     int
	text      string
	remaining int
	flush     chan struct{}
}

func (e *Engine) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-e.writes:
			if w.flush != nil {
				close(w.flush)
				continue
			}
			if w.answer {
				if err := e.store.SaveAnswer(ctx, w.index, w.text); err != nil {
					e.logger.Warn().Err(err).Int("question", w.index).Msg("Answer save failed")
				}
			} else {
				if err := e.store.UpdateProgress(ctx, w.index, w.remaining); err != nil {
					e.logger.Warn().Err(err).Msg("Progress checkpoint failed")
				}
			}
		}
	}
}

// saveAnswerAsync queues an answer write without blocking the event loop.
// A full queue drops the write; the in-memory answer stays authoritative
// and the next segment re-sends the full text anyway.
func (e *Engine) saveAnswerAsync(index int, text string) {
	select {
	case e.writes <- storeWrite{answer: true, index: index, text: text}:
	default:
		e.logger.Warn().Int("question", index).Msg("Write queue full, dropping answer save")
	}
}

func (e *Engine) checkpointAsync(remaining int) {
	select {
	case e.writes <- storeWrite{index: e.current, remaining: remaining}:
	default:
		e.logger.Warn().Msg("Write queue full, dropping progress checkpoint")
	}
}

// flushWrites blocks until every queued write has been applied.
func (e *Engine) flushWrites() {
	done := make(chan struct{})
	select {
	case e.writes <- storeWrite{flush: done}:
	case <-e.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-e.ctx.Done():
	}
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.state = s
	e.logger.Debug().Str("state", s.String()).Msg("State changed")
	if e.callbacks.OnStateChange != nil {
		e.callbacks.OnStateChange(s)
	}
}

// notice raises a user-facing message at most once per category per
// question turn.
func (e *Engine) notice(category, message string) {
	if e.noticeSeen[category] {
		return
	}
	e.noticeSeen[category] = true
	if e.callbacks.OnNotice != nil {
		e.callbacks.OnNotice(category, message)
	}
}

func (e *Engine) notifyQuestion() {
	if e.callbacks.OnQuestionChange != nil {
		e.callbacks.OnQuestionChange(e.current, e.questions[e.current])
	}
}

func (e *Engine) emitTranscript(text string, final bool) {
	if e.callbacks.OnTranscript != nil {
		e.callbacks.OnTranscript(text, final)
	}
}

func (e *Engine) emitAnswer(index int, text string) {
	if e.callbacks.OnAnswerChange != nil {
		e.callbacks.OnAnswerChange(index, text)
	}
}

func (e *Engine) announcementText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to %s. ", e.exam.Title)
	fmt.Fprintf(&b, "You have %d minutes and %d questions. ", e.exam.DurationSeconds/60, len(e.questions))
	b.WriteString("Each question will be read aloud, then recording starts automatically. ")
	b.WriteString("Say next, previous, repeat, clear answer, or submit exam at any time.")
	return b.String()
}

func (e *Engine) helpText() string {
	return "You can say: next question, previous question, repeat question, clear answer, " +
		"start recording, stop recording, or submit exam. Say help to hear this again."
}

func (e *Engine) questionText(q exam.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d. %s", q.Index+1, q.Prompt)
	if q.Kind == exam.KindMultipleChoice {
		for i, choice := range q.Choices {
			fmt.Fprintf(&b, " Option %d: %s.", i+1, choice)
		}
	}
	return b.String()
}

func clampIndex(index, total int) int {
	if index < 0 {
		return 0
	}
	if index >= total {
		return total - 1
	}
	return index
}

package ivr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meramandi/internal/service"
	"meramandi/internal/storage"
)

// State is a step of the voice registration dialogue.
type State string

const (
	Start       State = "start"
	AskName     State = "ask_name"
	AskState    State = "ask_state"
	AskDistrict State = "ask_district"
	AskCrop     State = "ask_crop"
	Finalize    State = "finalize"
	// Done is terminal; the call session is deleted when it is reached.
	Done State = "done"
)

const notHeard = "Sorry, I did not hear that."

// Input is one webhook request from the voice provider.
type Input struct {
	CallSID string
	From    string
	Speech  string
	Digits  string
	// Step is the state named in the action URL, if any.
	Step string
}

// Registrar completes a registration once the caller confirms.
type Registrar interface {
	RegisterCaller(ctx context.Context, reg service.CallerRegistration) (service.CallerResult, error)
}

type transition func(ctx context.Context, sess *storage.CallSession, in Input) (State, *Response)

// Machine drives the voice registration dialogue. Progress is kept in the call
// session store so each webhook request can land on any instance.
type Machine struct {
	sessions   storage.CallSessionStore
	registrar  Registrar
	actionPath string
	now        func() time.Time
	logger     zerolog.Logger
	table      map[State]transition
}

// NewMachine builds the dialogue. actionPath is the webhook path Twilio posts
// gathered input back to.
func NewMachine(sessions storage.CallSessionStore, registrar Registrar, actionPath string, logger zerolog.Logger) *Machine {
	m := &Machine{
		sessions:   sessions,
		registrar:  registrar,
		actionPath: actionPath,
		now:        time.Now,
		logger:     logger.With().Str("component", "ivr").Logger(),
	}
	m.table = map[State]transition{
		Start:       m.start,
		AskName:     m.askName,
		AskState:    m.askState,
		AskDistrict: m.askDistrict,
		AskCrop:     m.askCrop,
		Finalize:    m.finalize,
	}
	return m
}

// Handle advances the call identified by in.CallSID by one step.
func (m *Machine) Handle(ctx context.Context, in Input) (*Response, error) {
	in.CallSID = strings.TrimSpace(in.CallSID)
	in.Speech = strings.TrimSpace(in.Speech)
	in.Digits = strings.TrimSpace(in.Digits)
	if in.CallSID == "" {
		m.logger.Warn().Msg("voice request without call sid")
		return new(Response).say("Missing call session.").hangup(), nil
	}

	sess, err := m.sessions.GetCallSession(ctx, in.CallSID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sess = storage.CallSession{CallSID: in.CallSID, Phone: in.From, Step: string(Start)}
	case err != nil:
		return nil, fmt.Errorf("load call session: %w", err)
	}
	if sess.Phone == "" {
		sess.Phone = in.From
	}

	current := State(in.Step)
	if current == "" {
		current = State(sess.Step)
	}
	if current == "" {
		current = Start
	}

	step, ok := m.table[current]
	if !ok {
		m.logger.Warn().Str("call_sid", in.CallSID).Str("step", string(current)).Msg("unknown voice step")
		step = m.start
		current = Start
	}

	next, resp := step(ctx, &sess, in)
	m.logger.Debug().
		Str("call_sid", in.CallSID).
		Str("from", string(current)).
		Str("to", string(next)).
		Msg("voice transition")

	if next == Done {
		if err := m.sessions.DeleteCallSession(ctx, in.CallSID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("delete call session: %w", err)
		}
		return resp, nil
	}
	sess.Step = string(next)
	sess.UpdatedAt = m.now().UTC()
	if err := m.sessions.SaveCallSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save call session: %w", err)
	}
	return resp, nil
}

func (m *Machine) action(s State) string {
	return m.actionPath + "?step=" + string(s)
}

func (m *Machine) start(_ context.Context, _ *storage.CallSession, _ Input) (State, *Response) {
	return AskName, new(Response).
		say("Welcome to Meri Mandi. I will help you check the latest commodity prices.").
		gatherSpeech(m.action(AskName), "Please say your full name.").
		say(notHeard).
		redirect(m.actionPath)
}

func (m *Machine) askName(_ context.Context, sess *storage.CallSession, in Input) (State, *Response) {
	thanks := "Thanks."
	if in.Speech != "" {
		sess.Name = CleanName(in.Speech)
		thanks = "Thanks " + sess.Name + "."
	}
	return AskState, new(Response).
		gatherSpeech(m.action(AskState), thanks+" Now say your state. For example, Haryana or Punjab.").
		say(notHeard).
		redirect(m.action(AskState))
}

func (m *Machine) askState(_ context.Context, sess *storage.CallSession, in Input) (State, *Response) {
	state, ok := MatchState(in.Speech)
	if !ok {
		return AskState, new(Response).
			say("I could not match the state. Please say it again. For example Punjab or Haryana.").
			gatherSpeech(m.action(AskState), "Say your state now.").
			redirect(m.action(AskState))
	}
	sess.State = state
	return AskDistrict, new(Response).
		gatherSpeech(m.action(AskDistrict), "Great. Now say your district in "+state+".").
		say(notHeard).
		redirect(m.action(AskDistrict))
}

func (m *Machine) askDistrict(_ context.Context, sess *storage.CallSession, in Input) (State, *Response) {
	if sess.State == "" {
		return AskState, new(Response).redirect(m.action(AskState))
	}
	district, ok := MatchDistrict(sess.State, in.Speech)
	if !ok {
		return AskDistrict, new(Response).
			say("I could not match the district in "+sess.State+". Please say it again.").
			gatherSpeech(m.action(AskDistrict), "Say your district now.").
			redirect(m.action(AskDistrict))
	}
	sess.District = district
	return AskCrop, new(Response).
		gatherSpeech(m.action(AskCrop), "Thanks. Now say your preferred crop. For example wheat, cotton, rice, or say all crops.").
		say(notHeard).
		redirect(m.action(AskCrop))
}

func (m *Machine) askCrop(_ context.Context, sess *storage.CallSession, in Input) (State, *Response) {
	sess.Crop = MatchCrop(in.Speech)
	confirm := fmt.Sprintf("Let me confirm your details. You are %s from %s district, %s state. Your preference is %s.",
		orDefault(sess.Name, "Friend"), orDefault(sess.District, "your district"), orDefault(sess.State, "your state"), sess.Crop)
	return Finalize, new(Response).
		say(confirm).
		gatherDigit(m.action(Finalize), "To confirm and get prices, press 1. To restart, press 2.").
		redirect(m.action(Finalize))
}

func (m *Machine) finalize(ctx context.Context, sess *storage.CallSession, in Input) (State, *Response) {
	switch in.Digits {
	case "2":
		return Done, new(Response).say("Restarting.").redirect(m.actionPath)
	case "", "1":
	default:
		return Finalize, new(Response).say("Invalid input. Please press 1 or 2.").redirect(m.action(Finalize))
	}

	if sess.Name == "" || sess.State == "" || sess.District == "" || sess.Crop == "" {
		m.logger.Warn().Str("call_sid", sess.CallSID).Msg("call session missing details, restarting")
		return Start, new(Response).say("Missing details. Let's try again.").redirect(m.actionPath)
	}

	_, err := m.registrar.RegisterCaller(ctx, service.CallerRegistration{
		Phone:    sess.Phone,
		Name:     sess.Name,
		State:    sess.State,
		District: sess.District,
		Crop:     sess.Crop,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("call_sid", sess.CallSID).Msg("voice registration failed")
		return Done, new(Response).
			say("Sorry, we could not complete your registration right now. Please call again later.").
			hangup()
	}
	return Done, new(Response).
		say("Registration complete. We have sent you an SMS with your preferred crop prices. Thank you for using Meri Mandi.").
		hangup()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

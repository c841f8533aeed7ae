package twilio

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/transports"
)

type callAPI interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
	FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error)
}

// Updater drives live-call changes through the Twilio REST API. Ending
// a call sets its status to completed; a transfer replaces the call's
// TwiML with a dial to the target.
type Updater struct {
	cfg    Config
	client callAPI
}

var _ transports.CallUpdater = (*Updater)(nil)

func NewUpdater(cfg Config) *Updater {
	return &Updater{cfg: cfg.withDefaults()}
}

func (u *Updater) EndCall(ctx context.Context, callSID string) error {
	_ = ctx
	if callSID == "" {
		return errors.New("call sid required")
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := u.api().UpdateCall(callSID, params); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCallTerminated)
	}
	return nil
}

func (u *Updater) RedirectCall(ctx context.Context, callSID, target string) error {
	_ = ctx
	if callSID == "" {
		return errors.New("call sid required")
	}
	if target == "" {
		return errors.New("transfer target required")
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml("<Response><Dial>" + xmlEscape(target) + "</Dial></Response>")
	if _, err := u.api().UpdateCall(callSID, params); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (u *Updater) CallStatus(ctx context.Context, callSID string) (string, error) {
	_ = ctx
	if callSID == "" {
		return "", errors.New("call sid required")
	}
	resp, err := u.api().FetchCall(callSID, &api.FetchCallParams{})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Status == nil {
		return "", errors.New("missing call status")
	}
	return *resp.Status, nil
}

func (u *Updater) api() callAPI {
	if u.client != nil {
		return u.client
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: u.cfg.AccountSID,
		Password: u.cfg.AuthToken,
	})
	return rest.Api
}

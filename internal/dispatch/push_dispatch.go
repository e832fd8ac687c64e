package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-engine/internal/models"
)

// PushDispatcher tries the driver's live WebSocket session first and falls
// back to POSTing the offer to a driver-app backend endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Offer(offer models.RideOffer) error {
	if p.WS != nil {
		if err := p.WS.Offer(offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return fmt.Errorf("driver %s unreachable: %w", offer.DriverID, ErrNoSession)
	}
	b, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

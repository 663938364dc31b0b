package livebid_client

import (
	"github.com/mcdev12/livebid/go/clients"
)

// RejectionError is returned for every non-2xx response.
type RejectionError = clients.RejectionError

// LiveBidClient talks to the auction server's REST API.
type LiveBidClient struct {
	*clients.BaseClient
}

func NewLiveBidClient(baseURL string) *LiveBidClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &LiveBidClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(JsonHeader, JsonContentType)

	return client
}

// WithToken sets the bearer token sent with every request.
func (c *LiveBidClient) WithToken(token string) *LiveBidClient {
	if token != "" {
		c.SetHeader(AuthHeader, "Bearer "+token)
	}
	return c
}

package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
)

func gatewayFor(url string) *service.HTTPGateway {
	return service.NewHTTPGateway(&config.Config{
		Transfer: config.TransferConfig{GatewayURL: url, RequestTimeout: 2 * time.Second},
	})
}

func sampleTransfer() *domain.Transfer {
	return domain.NewTransfer(3, "usdc.test", "alice", domain.Amount(1_500_000), domain.ReasonBorrow, time.Now())
}

func TestHTTPGateway_Disabled(t *testing.T) {
	assert.Nil(t, gatewayFor(""))
}

func TestHTTPGateway_SendsPayloadWithIdempotencyKey(t *testing.T) {
	tr := sampleTransfer()
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tr.IdempotencyKey(), r.Header.Get(service.IdempotencyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, gatewayFor(srv.URL).Send(context.Background(), tr))
	assert.Equal(t, tr.ID.String(), got["transfer_id"])
	assert.Equal(t, "usdc.test", got["token_id"])
	assert.Equal(t, "alice", got["receiver_id"])
	assert.Equal(t, "1500000", got["amount"])
	assert.EqualValues(t, 3, got["pool_id"])
}

func TestHTTPGateway_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusUnprocessableEntity, true, true},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := gatewayFor(srv.URL).Send(context.Background(), sampleTransfer())
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.permanent, isPermanent(err))
		})
	}
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := gatewayFor(url).Send(context.Background(), sampleTransfer())
	require.Error(t, err)
	assert.False(t, isPermanent(err))
}

func isPermanent(err error) bool {
	return err != nil && errors.Is(err, service.ErrPermanentTransfer)
}

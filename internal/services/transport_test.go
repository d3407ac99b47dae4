package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/desertthunder/atx/internal/services"
	"github.com/desertthunder/atx/internal/shared"
	tu "github.com/desertthunder/atx/internal/testing"
)

func TestPDSClientTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Round Trip Failure", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}
		c := services.NewPDSClient("https://pds.test", client)

		_, err := c.DescribeServer(ctx)
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("Body Read Failure", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: &tu.FCloser{}}
		client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}
		c := services.NewPDSClient("https://pds.test", client)

		if _, err := c.DescribeServer(ctx); err == nil {
			t.Error("expected error when the body cannot be read")
		}
	})

	t.Run("Error Body Read Failure", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadGateway, Header: http.Header{}, Body: &tu.FCloser{}}
		client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}
		c := services.NewPDSClient("https://pds.test", client)

		_, err := c.DescribeServer(ctx)
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})
}

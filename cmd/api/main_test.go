package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewServerWriteTimeoutCoversWebhookBudget(t *testing.T) {
	srv := newServer("8080", http.NotFoundHandler(), 60*time.Second)
	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 65*time.Second, srv.WriteTimeout)

	srv = newServer("9000", http.NotFoundHandler(), time.Second)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
}

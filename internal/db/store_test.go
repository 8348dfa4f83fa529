package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingingDBTX struct {
	mockDBTX
	err error
}

func (p *pingingDBTX) Ping(context.Context) error { return p.err }

func TestStore_PingWithoutPinger(t *testing.T) {
	s := NewStore(new(mockDBTX), nil)
	require.NoError(t, s.Ping(context.Background()))
	assert.NotNil(t, s.CacheRepository)
	assert.NotNil(t, s.ForecastRepository)
	assert.NotNil(t, s.RaceRepository)
}

func TestStore_PingDelegates(t *testing.T) {
	down := errors.New("connection refused")
	s := NewStore(&pingingDBTX{err: down}, nil)
	assert.ErrorIs(t, s.Ping(context.Background()), down)

	s = NewStore(&pingingDBTX{}, nil)
	assert.NoError(t, s.Ping(context.Background()))
}

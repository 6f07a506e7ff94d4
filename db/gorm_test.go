package db

import (
	"strings"
	"testing"

	"VoteFM/config"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "fm",
		DBPassword: "p@ss",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "votefm",
	}

	dsn := DSN(cfg)
	assert.True(t, strings.HasPrefix(dsn, "fm:p@ss@tcp(db.local:3307)/votefm?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

package rag

import (
	"os"
	"testing"

	"kb-pilot-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	os.Exit(m.Run())
}

package webhook_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWebhookHandlers(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Webhook Handler Suite")
}

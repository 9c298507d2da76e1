package main

import (
	"os"

	// Import all Kubernetes client auth plugins for --credentials-secret
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/Hostzero-GmbH/keycloak-fixtures/cmd/fixtures"
)

func main() {
	os.Exit(fixtures.Execute(os.Args[1:]))
}

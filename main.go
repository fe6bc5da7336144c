package main

import (
	"github.com/onurcolak/sequence-dialer/cmd"

	_ "github.com/onurcolak/sequence-dialer/docs" // swagger docs
)

// @title Sequence Dialer API
// @version 1.0
// @description Schedules outbound call sequences within campaign business hours and dispatches them to the voice dialer
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email onur.colak@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key

// @schemes http https
func main() {
	cmd.Execute()
}

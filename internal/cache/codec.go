package cache

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/loandesk/internal/domain"
)

func encodeApplication(app *domain.Application) ([]byte, error) {
	if app == nil || app.AppNumber == "" {
		return nil, fmt.Errorf("application with a number is required")
	}
	return json.Marshal(app)
}

func decodeApplication(data []byte) (*domain.Application, error) {
	var app domain.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to decode cached application: %w", err)
	}
	return &app, nil
}

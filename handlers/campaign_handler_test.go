package handlers

import (
	"net/http"
	"testing"

	"github.com/onurcolak/sequence-dialer/internal/service"
	validatorpkg "github.com/onurcolak/sequence-dialer/pkg/validator"
)

func TestCreateCampaign_InvalidWindowReturns422(t *testing.T) {
	e := newTestEcho()
	handler := NewCampaignHandler(nil)

	body := `{"name":"renewals","maxAttempts":3,"timezone":"Mars/Olympus","businessHoursStart":"9am","businessHoursEnd":"17:00"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/campaigns", body)

	if err := handler.CreateCampaign(c); err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusUnprocessableEntity)

	resp := decode[validatorpkg.ValidationErrorResponse](t, rec)
	for _, field := range []string{"timezone", "businessHoursStart"} {
		if _, ok := resp.Details[field]; !ok {
			t.Errorf("expected Details to contain %q, got %v", field, resp.Details)
		}
	}
	if _, ok := resp.Details["businessHoursEnd"]; ok {
		t.Errorf("did not expect a valid end time to be reported")
	}
}

func TestCreateCampaign_InvertedWindowReturns400(t *testing.T) {
	e := newTestEcho()
	handler := NewCampaignHandler(newSequenceService(t))

	body := `{"name":"renewals","maxAttempts":3,"timezone":"UTC","businessHoursStart":"17:00","businessHoursEnd":"09:00"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/campaigns", body)

	if err := handler.CreateCampaign(c); err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestCreateAndGetCampaign(t *testing.T) {
	e := newTestEcho()
	handler := NewCampaignHandler(newSequenceService(t))

	body := `{"name":"renewals","maxAttempts":3,"retryDelayHours":24,"timezone":"UTC",` +
		`"businessHoursStart":"09:00","businessHoursEnd":"17:00","excludeWeekends":true,"agentId":"agent-7"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/campaigns", body)

	if err := handler.CreateCampaign(c); err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusCreated)

	created := decode[envelope[service.CampaignView]](t, rec).Data
	if created.ID == "" || created.AgentID != "agent-7" || !created.ExcludeWeekends {
		t.Fatalf("unexpected campaign %+v", created)
	}

	c, rec = newJSONContext(e, http.MethodGet, "/api/v1/campaigns/"+created.ID, "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID)

	if err := handler.GetCampaign(c); err != nil {
		t.Fatalf("GetCampaign returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusOK)

	fetched := decode[envelope[service.CampaignView]](t, rec).Data
	if fetched.BusinessHoursSummary != "09:00-17:00 UTC (weekdays only)" {
		t.Errorf("unexpected summary %q", fetched.BusinessHoursSummary)
	}
}

func TestCreateContact(t *testing.T) {
	e := newTestEcho()
	handler := NewCampaignHandler(newSequenceService(t))

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/contacts", `{"name":"Ada","doNotContact":true}`)
	if err := handler.CreateContact(c); err != nil {
		t.Fatalf("CreateContact returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusCreated)

	contact := decode[envelope[map[string]any]](t, rec).Data
	if contact["id"] == "" || contact["doNotContact"] != true {
		t.Errorf("unexpected contact %v", contact)
	}
}

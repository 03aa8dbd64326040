package schema

import "testing"

func decodeOK(t *testing.T, frame string) *Request {
	t.Helper()
	req, cerr := Decode([]byte(frame))
	if cerr != nil {
		t.Fatalf("Decode returned error: %v", cerr)
	}
	return req
}

func TestValidateAccepts(t *testing.T) {
	frames := []string{
		`{"id":"v1","method":"navigate","url":"https://example.com","wait_until":"networkidle"}`,
		`{"id":"v2","method":"click","selector":"#go","button":"right","click_count":2}`,
		`{"id":"v3","method":"click","selector":"#go","position":{"x":0.5,"y":0.5}}`,
		`{"id":"v4","method":"fill","selector":"input[name=q]","text":"hello","press_enter":true}`,
		`{"id":"v5","method":"extract","selector":"a","extract_type":"attribute","attribute_name":"href","multiple":true}`,
		`{"id":"v6","method":"wait","condition":"text_equals","selector":"h1","text_content":"Done"}`,
		`{"id":"v7","method":"wait","condition":"networkidle"}`,
	}
	for _, frame := range frames {
		req := decodeOK(t, frame)
		if cerr := Validate(req); cerr != nil {
			t.Errorf("Validate(%s) = %v, want nil", req.ID, cerr)
		}
	}
}

func TestValidateTimeoutBounds(t *testing.T) {
	req := decodeOK(t, `{"id":"v8","method":"wait","condition":"load","timeout":500}`)
	cerr := Validate(req)
	if cerr == nil {
		t.Fatal("timeout below minimum should be rejected")
	}
	if cerr.Code != ErrCodeInvalidParams {
		t.Errorf("Code = %s, want %s", cerr.Code, ErrCodeInvalidParams)
	}

	req = decodeOK(t, `{"id":"v9","method":"wait","condition":"load","timeout":900000}`)
	if Validate(req) == nil {
		t.Error("timeout above maximum should be rejected")
	}
}

func TestValidateEnum(t *testing.T) {
	req := decodeOK(t, `{"id":"v10","method":"navigate","url":"https://example.com","wait_until":"eventually"}`)
	cerr := Validate(req)
	if cerr == nil {
		t.Fatal("unknown wait_until should be rejected")
	}
	if cerr.Details["field"] != "wait_until" {
		t.Errorf("details.field = %v, want wait_until", cerr.Details["field"])
	}
}

func TestValidateRequired(t *testing.T) {
	req := decodeOK(t, `{"id":"v11","method":"click"}`)
	cerr := Validate(req)
	if cerr == nil {
		t.Fatal("click without selector should be rejected")
	}
	if cerr.Details["field"] != "selector" {
		t.Errorf("details.field = %v, want selector", cerr.Details["field"])
	}
}

func TestValidatePositionRange(t *testing.T) {
	req := decodeOK(t, `{"id":"v12","method":"click","selector":"#go","position":{"x":1.5,"y":0.5}}`)
	cerr := Validate(req)
	if cerr == nil {
		t.Fatal("position outside unit square should be rejected")
	}
	if cerr.Details["field"] != "position" {
		t.Errorf("details.field = %v, want position", cerr.Details["field"])
	}
}

func TestValidateClickCountRange(t *testing.T) {
	req := decodeOK(t, `{"id":"v13","method":"click","selector":"#go","click_count":50}`)
	if Validate(req) == nil {
		t.Error("click_count above limit should be rejected")
	}
}

func TestValidateExtractCrossField(t *testing.T) {
	req := decodeOK(t, `{"id":"v14","method":"extract","selector":"a","extract_type":"attribute"}`)
	cerr := Validate(req)
	if cerr == nil {
		t.Fatal("attribute extraction without attribute_name should be rejected")
	}
	if cerr.Details["field"] != "attribute_name" {
		t.Errorf("details.field = %v, want attribute_name", cerr.Details["field"])
	}

	req = decodeOK(t, `{"id":"v15","method":"extract","selector":"img","extract_type":"property"}`)
	cerr = Validate(req)
	if cerr == nil {
		t.Fatal("property extraction without property_name should be rejected")
	}
	if cerr.Details["field"] != "property_name" {
		t.Errorf("details.field = %v, want property_name", cerr.Details["field"])
	}
}

func TestValidateWaitCrossField(t *testing.T) {
	cases := []struct {
		frame string
		field string
	}{
		{`{"id":"v16","method":"wait","condition":"visible"}`, "selector"},
		{`{"id":"v17","method":"wait","condition":"text_equals","selector":"h1"}`, "text_content"},
		{`{"id":"v18","method":"wait","condition":"custom_script"}`, "custom_js"},
	}
	for _, c := range cases {
		req := decodeOK(t, c.frame)
		cerr := Validate(req)
		if cerr == nil {
			t.Errorf("Validate(%s) = nil, want error", req.ID)
			continue
		}
		if cerr.Details["field"] != c.field {
			t.Errorf("Validate(%s) details.field = %v, want %s", req.ID, cerr.Details["field"], c.field)
		}
	}
}

func TestElementWait(t *testing.T) {
	cases := []struct {
		cond WaitCondition
		want bool
	}{
		{WaitVisible, true},
		{WaitHidden, true},
		{WaitAttached, true},
		{WaitDetached, true},
		{WaitTextEquals, true},
		{WaitLoad, false},
		{WaitNetworkIdle, false},
		{WaitCustomScript, false},
	}
	for _, c := range cases {
		if got := c.cond.ElementWait(); got != c.want {
			t.Errorf("%s ElementWait() = %v, want %v", c.cond, got, c.want)
		}
	}
}

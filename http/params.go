package http

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
)

// params parses query parameters, keeping the first parsing error so that
// handlers can parse every parameter and check once.
type params struct {
	values url.Values
	err    error
}

func (p *params) float(name string) float64 {
	raw := p.values.Get(name)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(name, raw)
		return 0
	}
	return v
}

func (p *params) integer(name string) int {
	raw := p.values.Get(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(name, raw)
		return 0
	}
	return v
}

func (p *params) optionalBool(name string) bool {
	raw := p.values.Get(name)
	if raw == "" {
		return false
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name, raw)
		return false
	}
	return v
}

func (p *params) fail(name, raw string) {
	if p.err == nil {
		p.err = invalidParameter(name, raw)
	}
}

// ok writes a bad request response and returns false when a parameter
// failed to parse.
func (p *params) ok(w http.ResponseWriter, r *http.Request) bool {
	if p.err != nil {
		badRequest(w, r, p.err)
		return false
	}
	return true
}

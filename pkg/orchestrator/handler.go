// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "strings"

// Handler identifies which execution path serves a query. The set is
// closed: routing can only ever produce one of these values, and any
// unrecognized classifier output collapses to HandlerFallback.
type Handler int

const (
	HandlerKnowledge Handler = iota
	HandlerLiveERP
	HandlerBusinessIntelligence
	HandlerMultimodal
	HandlerFallback
)

var handlerNames = map[Handler]string{
	HandlerKnowledge:            "knowledge",
	HandlerLiveERP:              "live_erp",
	HandlerBusinessIntelligence: "business_intelligence",
	HandlerMultimodal:           "multimodal",
	HandlerFallback:             "fallback",
}

var handlerByLabel = map[string]Handler{
	"knowledge":             HandlerKnowledge,
	"live_erp":              HandlerLiveERP,
	"business_intelligence": HandlerBusinessIntelligence,
	"multimodal":            HandlerMultimodal,
	"fallback":              HandlerFallback,
}

func (h Handler) String() string {
	if name, ok := handlerNames[h]; ok {
		return name
	}
	return "fallback"
}

// ParseHandler maps a classifier label to a Handler. The second return is
// false for labels outside the closed set.
func ParseHandler(label string) (Handler, bool) {
	h, ok := handlerByLabel[strings.TrimSpace(strings.ToLower(label))]
	return h, ok
}

package httpclient

import (
	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type nopTarget struct {
	text string
}

func (t *nopTarget) Update(fullText string)                      { t.text = fullText }
func (t *nopTarget) RenderHITL(analysis.Prompt)                  {}
func (t *nopTarget) RenderPlanProgress(int, stream.Phase, *bool) {}
func (t *nopTarget) Finalize(float64, string)                    {}
func (t *nopTarget) ShowError(string)                            {}
func (t *nopTarget) ShowCancelled()                              {}

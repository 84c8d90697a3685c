package doh

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Question is a JSON question.
type Question struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

// RR is a JSON resource record.
type RR struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// Msg is the JSON form of a response.
type Msg struct {
	Status    int
	TC        bool
	RD        bool
	RA        bool
	AD        bool
	CD        bool
	Question  []Question
	Answer    []RR `json:",omitempty"`
	Authority []RR `json:",omitempty"`
}

// NewMsg converts a response to its JSON form.
func NewMsg(m *dns.Msg) *Msg {
	if m == nil {
		return nil
	}

	msg := &Msg{
		Status:    m.Rcode,
		TC:        m.Truncated,
		RD:        m.RecursionDesired,
		RA:        m.RecursionAvailable,
		AD:        m.AuthenticatedData,
		CD:        m.CheckingDisabled,
		Answer:    records(m.Answer),
		Authority: records(m.Ns),
	}

	for _, q := range m.Question {
		msg.Question = append(msg.Question, Question{Name: q.Name, Type: q.Qtype})
	}

	return msg
}

func records(rrs []dns.RR) []RR {
	out := make([]RR, 0, len(rrs))
	for _, rr := range rrs {
		h := rr.Header()
		out = append(out, RR{
			Name: h.Name,
			Type: h.Rrtype,
			TTL:  h.Ttl,
			Data: strings.TrimPrefix(rr.String(), h.String()),
		})
	}
	return out
}

// ParseQTYPE reads a query type given by name or number; empty means A.
func ParseQTYPE(s string) uint16 {
	if s == "" {
		return dns.TypeA
	}

	if v, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(v)
	}

	if v, ok := dns.StringToType[strings.ToUpper(s)]; ok {
		return v
	}

	return dns.TypeNone
}

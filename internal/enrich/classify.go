package enrich

import (
	"strings"

	"github.com/sells-group/lead-enrich/pkg/apollo"
	"github.com/sells-group/lead-enrich/pkg/lusha"
)

// Phone is a provider-neutral phone entry ready for classification.
type Phone struct {
	Number     string
	Type       string
	Confidence string
	DoNotCall  bool
}

// Email is a provider-neutral email entry ready for best-pick selection.
type Email struct {
	Address string
	Type    string
}

// ClassifiedPhones is the classification outcome for one record.
type ClassifiedPhones struct {
	Mobile     string
	DirectDial string
}

// Classify picks the best mobile and direct-dial numbers under these
// rules. Do-not-call numbers never qualify. Among same-category candidates
// the higher confidence wins; on ties the earlier number is kept.
func (r ProviderRules) Classify(phones []Phone) ClassifiedPhones {
	var out ClassifiedPhones
	bestMobile, bestDirect := -1, -1

	for _, p := range phones {
		if p.DoNotCall || p.Number == "" {
			continue
		}
		tag := strings.ToLower(p.Type)
		conf := r.rank(p.Confidence)

		switch {
		case containsTag(r.MobileTypes, tag) && conf > bestMobile:
			out.Mobile = p.Number
			bestMobile = conf
		case containsTag(r.DirectTypes, tag) && conf > bestDirect:
			out.DirectDial = p.Number
			bestDirect = conf
		}
	}
	return out
}

func (r ProviderRules) rank(confidence string) int {
	return r.ConfidenceRanks[strings.ToLower(confidence)]
}

// emailPreferredTypes are the provider type tags that mark a work address.
var emailPreferredTypes = []string{"work", "business"}

// BestEmail returns the first work- or business-tagged address, falling
// back to the first non-empty one.
func BestEmail(emails []Email) string {
	first := ""
	for _, e := range emails {
		if e.Address == "" {
			continue
		}
		if containsTag(emailPreferredTypes, strings.ToLower(e.Type)) {
			return e.Address
		}
		if first == "" {
			first = e.Address
		}
	}
	return first
}

func containsTag(set []string, tag string) bool {
	for _, s := range set {
		if s == tag {
			return true
		}
	}
	return false
}

// FromLushaPhones adapts Lusha wire phones for classification. Lusha
// phones carry no confidence tag, so classification degenerates to
// first-wins per category.
func FromLushaPhones(nums []lusha.PhoneNumber) []Phone {
	out := make([]Phone, 0, len(nums))
	for _, n := range nums {
		out = append(out, Phone{
			Number:    n.Number,
			Type:      n.PhoneType,
			DoNotCall: n.DoNotCall,
		})
	}
	return out
}

// FromLushaEmails adapts Lusha wire emails for best-pick selection.
func FromLushaEmails(addrs []lusha.EmailAddress) []Email {
	out := make([]Email, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Email{Address: a.Email, Type: a.EmailType})
	}
	return out
}

// FromApolloPhones adapts Apollo wire phones for classification; the
// sanitized number is preferred over the raw one.
func FromApolloPhones(nums []apollo.PhoneNumber) []Phone {
	out := make([]Phone, 0, len(nums))
	for _, n := range nums {
		number := n.SanitizedNumber
		if number == "" {
			number = n.RawNumber
		}
		out = append(out, Phone{
			Number:     number,
			Type:       n.TypeCD,
			Confidence: n.ConfidenceCD,
			DoNotCall:  n.DoNotCall,
		})
	}
	return out
}

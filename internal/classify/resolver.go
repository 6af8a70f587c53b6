package classify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/model"
)

// heuristicRule pairs a category with the substring markers that select it.
type heuristicRule struct {
	category model.Category
	markers  []string
}

// heuristicRules is evaluated in order; the first rule with a marker hit
// wins. Out-of-office outranks meeting markers, which outrank interest
// markers, and spam markers are checked last.
var heuristicRules = []heuristicRule{
	{
		category: model.CategoryOutOfOffice,
		markers: []string{
			"out of office", "out-of-office", "on vacation", "on leave",
			"auto-reply", "automatic reply", "away from my desk",
			"annual leave", "maternity leave", "paternity leave",
			"back in the office",
		},
	},
	{
		category: model.CategoryMeetingBooked,
		markers: []string{
			"meeting confirmed", "meeting booked", "invite accepted",
			"invitation accepted", "calendar invite", "has been scheduled",
			"appointment confirmed", "added to your calendar",
			"booked a time",
		},
	},
	{
		category: model.CategoryInterested,
		markers: []string{
			"interested", "sounds good", "let's schedule", "keen to",
			"would love to", "tell me more", "share more details",
			"book a demo", "looking forward to",
		},
	},
	{
		category: model.CategoryNotInterested,
		markers: []string{
			"not interested", "no longer interested", "unsubscribe me",
			"please remove me", "don't contact", "do not contact",
			"not a good fit", "we'll pass", "no thanks",
		},
	},
	{
		category: model.CategorySpam,
		markers: []string{
			"win a free", "congratulations! you", "click to claim",
			"lottery", "viagra", "crypto giveaway", "act now",
			"limited time offer", "100% free", "risk-free",
			"earn money fast",
		},
	},
}

// negatedInterest are phrases that contain an interest marker as a
// substring but express the opposite. The interest rule skips its turn
// when one of these is present so "not interested" reaches the
// not-interested rule below it.
var negatedInterest = []string{
	"not interested", "no longer interested", "isn't interested",
	"is not interested", "never interested",
}

// Resolver decides a message's category in strict precedence order:
// an existing category wins outright, then a provider label hint, then the
// AI classifier, then keyword heuristics. Classifier failures of any kind
// fall through to heuristics.
type Resolver struct {
	classifier Classifier
	log        *logrus.Entry
}

// NewResolver creates a Resolver. classifier may be nil, in which case the
// classifier stage is skipped entirely.
func NewResolver(classifier Classifier, log *logrus.Entry) *Resolver {
	return &Resolver{classifier: classifier, log: log}
}

// Resolve returns the category for msg, or "" when no stage yields one.
// It never clears an already-present category.
func (r *Resolver) Resolve(
	ctx context.Context,
	msg *model.Message,
	hint model.Category,
) model.Category {
	// Stage 1: an existing category is final.
	if msg.Category != "" {
		return msg.Category
	}

	// Stage 2: provider label hint.
	if hint != "" {
		return hint
	}

	// Stage 3: AI classifier. Any failure or unrecognized label falls
	// through to heuristics.
	if r.classifier != nil {
		label, err := r.classifier.Classify(ctx, Input{
			Subject: msg.Subject,
			From:    msg.From,
			Body:    msg.BodyText,
		})
		if err != nil {
			r.log.WithError(err).WithField("external_id", msg.ExternalID).
				Warn("classifier unavailable, falling back to heuristics")
		} else if category, ok := model.ParseCategory(label); ok {
			return category
		} else if label != "" {
			r.log.WithFields(logrus.Fields{
				"external_id": msg.ExternalID,
				"label":       label,
			}).Debug("classifier returned unknown label")
		}
	}

	// Stage 4: keyword heuristics.
	return MatchHeuristics(msg.Subject, msg.BodyText)
}

// MatchHeuristics runs the fixed-priority substring rules over the
// lower-cased subject and body. It returns "" when nothing matches.
func MatchHeuristics(subject, body string) model.Category {
	text := strings.ToLower(subject + " " + body)

	for _, rule := range heuristicRules {
		if rule.category == model.CategoryInterested && containsAny(text, negatedInterest) {
			continue
		}
		if containsAny(text, rule.markers) {
			return rule.category
		}
	}

	return ""
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

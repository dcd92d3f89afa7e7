package router

import (
	"regexp"
	"sort"
	"strings"
)

// Topic is a detected subject area of a user message. The persona engine
// uses topics to decide which context blocks to surface.
type Topic string

const (
	TopicTraining  Topic = "training"
	TopicNutrition Topic = "nutrition"
	TopicRecovery  Topic = "recovery"
	TopicProgress  Topic = "progress"
	TopicGoals     Topic = "goals"
)

// maxTopicsPerTurn bounds how many topic contexts a single turn can pull in.
const maxTopicsPerTurn = 2

type topicPatterns struct {
	keywords []string
	patterns []*regexp.Regexp
}

// topicDetector scores messages by keyword and pattern matches. Pure
// pattern matching, no model call, so detection adds no latency.
type topicDetector struct {
	byTopic   map[Topic]topicPatterns
	followups []*regexp.Regexp

	// lastTopics remembers the previous turn's topics per conversation
	// so short follow-ups keep their subject. Guarded by the router's
	// mutex.
	lastTopics map[string][]Topic
}

func newTopicDetector() *topicDetector {
	compile := func(patterns ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, regexp.MustCompile(p))
		}
		return out
	}

	return &topicDetector{
		byTopic: map[Topic]topicPatterns{
			TopicTraining: {
				keywords: []string{
					"workout", "training", "lift", "gym", "exercise", "sets", "reps",
					"volume", "chest", "back", "legs", "arms", "shoulders", "push", "pull",
					"bench", "squat", "deadlift", "muscle", "strength", "session",
					"split", "routine", "dumbbell", "barbell", "compound", "isolation",
				},
				patterns: compile(
					`how.*(workout|training|lift)`,
					`should i.*(train|lift)`,
					`(chest|back|legs|arms).*(volume|sets)`,
					`last.*(workout|session)`,
					`next.*(workout|session)`,
				),
			},
			TopicNutrition: {
				keywords: []string{
					"eat", "food", "meal", "calories", "protein", "carbs", "fat",
					"macros", "diet", "hungry", "eating", "breakfast", "lunch", "dinner",
					"snack", "deficit", "surplus", "fasting", "nutrition", "intake",
					"log", "track",
				},
				patterns: compile(
					`what.*(eat|have|should i eat)`,
					`how.*protein`,
					`(too much|not enough).*(eat|cal)`,
					`log.*(food|meal|breakfast|lunch|dinner)`,
				),
			},
			TopicRecovery: {
				keywords: []string{
					"sleep", "tired", "fatigue", "rest", "recovery", "hrv",
					"heart rate", "sore", "energy", "stress", "burnout",
					"overtraining", "deload", "exhausted", "rested",
				},
				patterns: compile(
					`how.*(sleep|recover)`,
					`feel.*(tired|sore|worn|exhausted)`,
					`(hrv|heart rate).*(low|high|dropping)`,
					`need.*(rest|deload|break)`,
				),
			},
			TopicProgress: {
				keywords: []string{
					"progress", "results", "weight", "body fat", "lean",
					"losing", "gaining", "trend", "change", "working",
					"scale", "measurements", "recomp",
				},
				patterns: compile(
					`how.*(doing|going|progress)`,
					`(losing|gaining).*(weight|fat|muscle)`,
					`is.*(working|helping)`,
					`(weight|bf|body fat).*(trend|change)`,
				),
			},
			TopicGoals: {
				keywords: []string{
					"goal", "target", "plan", "phase", "cut", "bulk", "recomp",
					"maintain", "timeline", "deadline", "milestone", "objective",
				},
				patterns: compile(
					`(my|the) goal`,
					`want to.*(lose|gain|get|be)`,
					`(current|next) phase`,
					`how long.*(take|until)`,
				),
			},
		},
		followups: compile(
			`^(and|also|what about|how about|okay|so|yeah|yes|no|sure)`,
			`^(that|this|it)\b`,
			`^(more|another|other)`,
			`^(why|how|when|where|who)\b`,
			`\?$`,
		),
		lastTopics: make(map[string][]Topic),
	}
}

// detect scores the lowercased message against every topic and returns the
// top scorers. Keywords count one point, patterns two. When nothing
// matches but the message reads as a follow-up, the previous turn's topics
// carry over.
func (d *topicDetector) detect(lower string, previous []Topic) []Topic {
	type scored struct {
		topic Topic
		score int
	}

	var results []scored
	for topic, tp := range d.byTopic {
		score := 0
		for _, kw := range tp.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		for _, re := range tp.patterns {
			if re.MatchString(lower) {
				score += 2
			}
		}
		if score > 0 {
			results = append(results, scored{topic, score})
		}
	}

	if len(results) == 0 {
		if len(previous) > 0 && d.isFollowup(lower) {
			return previous
		}
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].topic < results[j].topic
	})
	if len(results) > maxTopicsPerTurn {
		results = results[:maxTopicsPerTurn]
	}

	topics := make([]Topic, len(results))
	for i, r := range results {
		topics[i] = r.topic
	}
	return topics
}

// isFollowup reports whether a short message likely continues the previous
// subject rather than opening a new one.
func (d *topicDetector) isFollowup(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	if len(strings.Fields(trimmed)) > 5 {
		return false
	}
	for _, re := range d.followups {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// previous returns the remembered topics for a conversation. Callers must
// hold the router mutex.
func (d *topicDetector) previous(conversationID string) []Topic {
	return d.lastTopics[conversationID]
}

// remember stores this turn's topics for follow-up continuity. Empty
// detections do not clear the memory. Callers must hold the router mutex.
func (d *topicDetector) remember(conversationID string, topics []Topic) {
	if len(topics) == 0 {
		return
	}
	d.lastTopics[conversationID] = append([]Topic(nil), topics...)
}

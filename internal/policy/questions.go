package policy

import "github.com/capsulemarket/capsule/internal/domain"

// ─── Content Question Pools ─────────────────────────────────────────────────
// One question is chosen uniformly at random when a submission starts and
// frozen into it. Re-randomizing on retry would let a user shop for an
// easier question, so the pick happens exactly once per submission.

// PickQuestion selects a question for the task type. intn draws a uniform
// index (rand.Intn in production, deterministic in tests). Returns "" for
// an unknown task type; callers validate the type first.
func (b *Bundle) PickQuestion(taskType domain.TaskType, intn func(n int) int) string {
	pool := b.Questions[taskType]
	if len(pool) == 0 {
		return ""
	}
	return pool[intn(len(pool))]
}

func defaultQuestions() map[domain.TaskType][]string {
	return map[domain.TaskType][]string{
		domain.TaskLike: {
			"What is the post mainly about?",
			"What color dominates the image or thumbnail?",
			"How many likes did the post show when you liked it (roughly)?",
			"What is the first word of the caption?",
			"Is the post a photo, a video, or a carousel?",
			"What emoji appears in the caption, if any?",
			"Who is tagged or mentioned in the post?",
			"What hashtag appears first in the caption?",
			"Describe the background of the image in a few words.",
			"What is the account name that published the post?",
			"Is there text overlaid on the image? What does it say?",
			"What time of day does the photo appear to be taken?",
		},
		domain.TaskComment: {
			"Summarize the post you commented on in one sentence.",
			"What did your comment say?",
			"What is the main subject of the post?",
			"How many comments did the post have before yours (roughly)?",
			"What is the first word of the post caption?",
			"Which other commenter's remark stood out to you?",
			"What question does the post ask its audience, if any?",
			"What product, place, or person is featured in the post?",
			"What emoji did you use in your comment, if any?",
			"What is the account name that published the post?",
			"Was the post a photo, a video, or text only?",
			"What hashtag appears in the caption, if any?",
		},
		domain.TaskFollow: {
			"What does the account you followed post about?",
			"What is the account's display name?",
			"Roughly how many followers does the account show?",
			"What is written in the account's bio (first few words)?",
			"What is the most recent post on the account about?",
			"Does the account have a profile picture? Describe it briefly.",
			"How many posts does the account show (roughly)?",
			"Is the account verified (blue check)?",
			"What link, if any, is in the account's bio?",
			"What category or label does the profile show, if any?",
			"What is pinned at the top of the profile, if anything?",
			"What language does the account mostly post in?",
		},
		domain.TaskWatch: {
			"What happens in the first ten seconds of the video?",
			"What is the video's title?",
			"Who appears on screen in the video?",
			"What is said or shown at the very end of the video?",
			"Roughly how long is the video?",
			"What music or sound plays in the video, if any?",
			"What is the main topic of the video?",
			"What text appears on screen during the video, if any?",
			"Where does the video appear to be filmed?",
			"What product or brand is shown in the video, if any?",
			"What does the creator ask viewers to do?",
			"What is the thumbnail of the video showing?",
		},
		domain.TaskVisit: {
			"What is the headline on the page you visited?",
			"What is the website mainly about?",
			"What is the first section heading below the top of the page?",
			"What call-to-action button does the page show?",
			"What colors dominate the site's design?",
			"What is the name shown in the site's logo or header?",
			"Does the page show prices? Name one item and its price.",
			"What is in the page footer (first few words)?",
			"What image appears at the top of the page?",
			"What menu items does the navigation bar show?",
			"Is there a signup or newsletter form on the page?",
			"What is the page's main offer or product?",
		},
	}
}

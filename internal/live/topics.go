// ABOUTME: Trending-topic extraction and ranking over a sliding window of chat messages
// ABOUTME: Phrases are runs of non-stopwords, trimmed to their last three words

package live

import (
	"sort"
	"strings"
	"unicode"
)

// maxPhraseWords caps how many words of a run form a phrase
const maxPhraseWords = 3

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again all also am an and any are as at
		be because been before being between both but by
		can cant could did didnt do does doesnt doing dont down during
		each even ever every few for from further get gets getting give go going got
		had has have having he her here hers him his how i id if im in into is isnt it its ive
		just know like lot lots love make makes me more most much my
		no nor not now of off on once one only or other our out over own
		please really same she should so some such
		talk tell than thank thanks that thats the their them then there these they thing things think this those through tips to too
		up us very want was we were what whats when where which while who whom why will with would
		yes yet you youd youre your yours
	`) {
		stopwords[w] = struct{}{}
	}
}

// Topic is one trending phrase and how many windowed chats mention it
type Topic struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ExtractTopics returns the distinct topic phrases of a chat message in the
// order they appear. The text is lowercased and stripped of punctuation;
// each maximal run of non-stopwords yields one phrase of at most three words,
// taken from the end of the run.
func ExtractTopics(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, text)

	var (
		phrases []string
		seen    = make(map[string]bool)
		run     []string
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) > maxPhraseWords {
			run = run[len(run)-maxPhraseWords:]
		}
		phrase := strings.Join(run, " ")
		if !seen[phrase] {
			seen[phrase] = true
			phrases = append(phrases, phrase)
		}
		run = nil
	}

	for _, w := range strings.Fields(cleaned) {
		if _, stop := stopwords[w]; stop || isNumber(w) {
			flush()
			continue
		}
		run = append(run, w)
	}
	flush()

	return phrases
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

type windowEntry struct {
	seq     uint64
	phrases []string
}

type topicStat struct {
	count   int
	lastSeq uint64
}

// topicWindow counts phrases over the most recent chats
type topicWindow struct {
	size    int
	entries []windowEntry
	stats   map[string]*topicStat
}

func newTopicWindow(size int) *topicWindow {
	return &topicWindow{
		size:  size,
		stats: make(map[string]*topicStat),
	}
}

func (w *topicWindow) add(seq uint64, phrases []string) {
	if len(w.entries) == w.size {
		w.evict(w.entries[0])
		w.entries = w.entries[1:]
	}
	w.entries = append(w.entries, windowEntry{seq: seq, phrases: phrases})

	for _, p := range phrases {
		st, ok := w.stats[p]
		if !ok {
			st = &topicStat{}
			w.stats[p] = st
		}
		st.count++
		st.lastSeq = seq
	}
}

// evict drops an entry's counts. The evicted entry is the oldest, so a
// phrase's lastSeq still points at a live entry whenever its count stays positive.
func (w *topicWindow) evict(e windowEntry) {
	for _, p := range e.phrases {
		st := w.stats[p]
		st.count--
		if st.count == 0 {
			delete(w.stats, p)
		}
	}
}

// rank orders phrases by count, then most recent mention, then label
func (w *topicWindow) rank(limit int) []Topic {
	type ranked struct {
		label string
		stat  topicStat
	}
	all := make([]ranked, 0, len(w.stats))
	for label, st := range w.stats {
		all = append(all, ranked{label: label, stat: *st})
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.stat.count != b.stat.count {
			return a.stat.count > b.stat.count
		}
		if a.stat.lastSeq != b.stat.lastSeq {
			return a.stat.lastSeq > b.stat.lastSeq
		}
		return a.label < b.label
	})

	if len(all) > limit {
		all = all[:limit]
	}
	topics := make([]Topic, len(all))
	for i, r := range all {
		topics[i] = Topic{Label: r.label, Count: r.stat.count}
	}
	return topics
}

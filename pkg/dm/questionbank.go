package dm

import (
	"context"
	"io"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question is one main topic with a pool of follow-up prompts.
type Question struct {
	Question  string   `yaml:"question"`
	FollowUps []string `yaml:"follow_ups"`
}

// Bank is the scripted content a QuestionBankDM draws from: a sequence of
// main questions plus shared acknowledgement/segue pools used to vary
// follow-up phrasing. Loaded from YAML, never embedded as a package-level
// default, so every session gets its own copy to mutate.
type Bank struct {
	Questions        []Question `yaml:"questions"`
	Acknowledgements []string   `yaml:"acknowledgements"`
	Segues           []string   `yaml:"segues"`
}

// LoadBank parses a YAML-encoded Bank.
func LoadBank(r io.Reader) (*Bank, error) {
	var b Bank
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Ranker selects the best candidate response given the dialog context so
// far, e.g. by delegating to an LLM or remote ranking service. A nil Ranker
// makes QuestionBankDM pick uniformly at random instead.
type Ranker func(ctx context.Context, dialogContext []string, candidates []string) (string, error)

// QuestionBankDM is a scripted dm.Source: it works through a bank of
// questions and their follow-ups, consuming each entry at most once,
// optionally using a Ranker to choose among remaining candidates instead of
// picking randomly.
type QuestionBankDM struct {
	bank         Bank // owned copy, mutated as questions/follow-ups are consumed
	nFollowUps   int
	rank         Ranker
	rng          *rand.Rand

	started             bool
	currentQuestion     int // index into bank.Questions of the question in progress, or -1
	currentFollowUps    []string
	nCurrentFollowUps   int
}

// NewQuestionBankDM copies bank (the caller's Bank is never mutated) and
// returns a DM instance scoped to one session. nFollowUps is the number of
// follow-ups asked before moving to a new main question; seed seeds the
// per-session random source used when rank is nil.
func NewQuestionBankDM(bank Bank, nFollowUps int, rank Ranker, seed int64) *QuestionBankDM {
	owned := Bank{
		Questions:        append([]Question(nil), bank.Questions...),
		Acknowledgements: append([]string(nil), bank.Acknowledgements...),
		Segues:           append([]string(nil), bank.Segues...),
	}
	for i, q := range owned.Questions {
		owned.Questions[i].FollowUps = append([]string(nil), q.FollowUps...)
	}
	return &QuestionBankDM{
		bank:            owned,
		nFollowUps:      nFollowUps,
		rank:            rank,
		rng:             rand.New(rand.NewSource(seed)),
		currentQuestion: -1,
	}
}

func (d *QuestionBankDM) choose(ctx context.Context, dialogContext []string, candidates []string) (string, int, error) {
	if len(candidates) == 0 {
		return "", -1, nil
	}
	if d.rank != nil {
		chosen, err := d.rank(ctx, dialogContext, candidates)
		if err != nil {
			return "", -1, err
		}
		for i, c := range candidates {
			if c == chosen {
				return chosen, i, nil
			}
		}
	}
	i := d.rng.Intn(len(candidates))
	return candidates[i], i, nil
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i], s[i+1:]...)
}

// pickFrom returns a random element of pool, or "" if pool is empty.
func (d *QuestionBankDM) pickFrom(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[d.rng.Intn(len(pool))]
}

// withLeadIn prepends a randomly chosen acknowledgement and segue ahead of
// response, so a follow-up reads e.g. "I see. So, what do you like to do
// to unwind?" instead of the bare question text.
func (d *QuestionBankDM) withLeadIn(response string) string {
	lead := strings.TrimSpace(d.pickFrom(d.bank.Acknowledgements) + " " + d.pickFrom(d.bank.Segues))
	if lead == "" {
		return response
	}
	return lead + " " + response
}

// GetResponse implements dm.Source. The first call (empty context) starts
// with the bank's first question; later calls pick a follow-up until
// nFollowUps is reached, then rank among the remaining main questions; once
// the bank is exhausted it signals ended=true.
func (d *QuestionBankDM) GetResponse(ctx context.Context, dialogContext []string) (string, bool, interface{}, error) {
	if !d.started {
		d.started = true
		if len(d.bank.Questions) == 0 {
			return "", true, nil, nil
		}
		q := d.bank.Questions[0]
		d.bank.Questions = d.bank.Questions[1:]
		d.currentQuestion = 0
		d.currentFollowUps = q.FollowUps
		d.nCurrentFollowUps = 0
		return q.Question, false, nil, nil
	}

	if len(d.bank.Questions) == 0 && d.nCurrentFollowUps >= d.nFollowUps {
		return "Dialog Done", true, nil, nil
	}

	if d.nCurrentFollowUps >= d.nFollowUps {
		candidates := make([]string, len(d.bank.Questions))
		for i, q := range d.bank.Questions {
			candidates[i] = q.Question
		}
		chosen, idx, err := d.choose(ctx, dialogContext, candidates)
		if err != nil {
			return "", false, nil, err
		}
		next := d.bank.Questions[idx]
		d.bank.Questions = removeAt(d.bank.Questions, idx)
		d.currentFollowUps = next.FollowUps
		d.nCurrentFollowUps = 0
		return d.withLeadIn(chosen), false, nil, nil
	}

	if len(d.currentFollowUps) == 0 {
		// No follow-ups left for this question; force a new main question
		// next call by exhausting the counter.
		d.nCurrentFollowUps = d.nFollowUps
		return d.GetResponse(ctx, dialogContext)
	}

	chosen, idx, err := d.choose(ctx, dialogContext, d.currentFollowUps)
	if err != nil {
		return "", false, nil, err
	}
	d.currentFollowUps = removeAt(d.currentFollowUps, idx)
	d.nCurrentFollowUps++
	return d.withLeadIn(chosen), false, nil, nil
}

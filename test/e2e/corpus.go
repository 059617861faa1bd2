// Package e2e provides end-to-end tests over a generated quiz corpus served
// through the HTTP API.
package e2e

import (
	"fmt"
	"strconv"

	"github.com/hyperjump/proshno/internal/models"
)

// QueryTestCase is a query and the document that must come back first.
type QueryTestCase struct {
	Query      string
	ExpectedID int64
	Answer     string
}

// Corpus holds generated quiz rows and the queries that must find them.
type Corpus struct {
	Documents    []*models.Document
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

var topics = []struct {
	work    string
	author  string
	kind    string
	decoy   string
	century string
}{
	{"গীতাঞ্জলি", "রবীন্দ্রনাথ ঠাকুর", "কাব্যগ্রন্থ", "কাজী নজরুল ইসলাম", "বিংশ"},
	{"অগ্নিবীণা", "কাজী নজরুল ইসলাম", "কাব্যগ্রন্থ", "জীবনানন্দ দাশ", "বিংশ"},
	{"রূপসী বাংলা", "জীবনানন্দ দাশ", "কাব্যগ্রন্থ", "জসীমউদ্দীন", "বিংশ"},
	{"নকশী কাঁথার মাঠ", "জসীমউদ্দীন", "কাহিনিকাব্য", "শামসুর রাহমান", "বিংশ"},
	{"পদ্মা নদীর মাঝি", "মানিক বন্দ্যোপাধ্যায়", "উপন্যাস", "বিভূতিভূষণ বন্দ্যোপাধ্যায়", "বিংশ"},
	{"পথের পাঁচালী", "বিভূতিভূষণ বন্দ্যোপাধ্যায়", "উপন্যাস", "তারাশঙ্কর বন্দ্যোপাধ্যায়", "বিংশ"},
	{"দুর্গেশনন্দিনী", "বঙ্কিমচন্দ্র চট্টোপাধ্যায়", "উপন্যাস", "প্যারীচাঁদ মিত্র", "ঊনবিংশ"},
	{"মেঘনাদবধ কাব্য", "মাইকেল মধুসূদন দত্ত", "মহাকাব্য", "হেমচন্দ্র বন্দ্যোপাধ্যায়", "ঊনবিংশ"},
	{"লালসালু", "সৈয়দ ওয়ালীউল্লাহ", "উপন্যাস", "শওকত ওসমান", "বিংশ"},
	{"কবর", "মুনীর চৌধুরী", "নাটক", "সেলিনা হোসেন", "বিংশ"},
}

// BuildCorpus returns n quiz documents. Every question is unique and each
// document gets a test case asking its own question.
func BuildCorpus(n int) *Corpus {
	docs := make([]*models.Document, 0, n)
	cases := make([]QueryTestCase, 0, n)
	for i := 0; i < n; i++ {
		t := topics[i%len(topics)]
		id := int64(1000 + i)
		var question string
		switch (i / len(topics)) % 3 {
		case 0:
			question = fmt.Sprintf("'%s' %s কার রচনা? (প্রশ্ন %d)", t.work, t.kind, i+1)
		case 1:
			question = fmt.Sprintf("%s রচিত %s কোনটি? (প্রশ্ন %d)", t.author, t.kind, i+1)
		default:
			question = fmt.Sprintf("'%s' কোন শতকে প্রকাশিত? (প্রশ্ন %d)", t.work, i+1)
		}
		answer := "1"
		options := []string{t.author, t.decoy, "", ""}
		if i%2 == 1 {
			options = []string{t.decoy, t.author}
			answer = t.author
		}
		qid := int64(i + 1)
		doc := &models.Document{
			ID:          id,
			QuestionID:  &qid,
			Question:    question,
			Options:     options,
			Answer:      answer,
			Explanation: fmt.Sprintf("<b>%s</b> %s এর %s।<br>%s শতকের রচনা।", t.work, t.author, t.kind, t.century),
			Difficulty:  strconv.Itoa(i%3 + 1),
			Metadata:    map[string]string{"Category": t.kind},
		}
		docs = append(docs, doc)
		cases = append(cases, QueryTestCase{Query: question, ExpectedID: id, Answer: t.author})
	}
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

package summary

import (
	"fmt"
	"strings"
)

const analystPrompt = "You are a professional news analyst skilled at extracting key insights from multiple news articles."

const translatorPrompt = "You are a careful news translator. You keep structure and numbering exactly as given."

func takeawayPrompt(titles []string) string {
	var b strings.Builder
	b.WriteString("Here are today's latest news headlines:\n\n")
	for i, t := range titles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	b.WriteString(`
Please summarize based on these headlines:
1. Things to watch today (2-3 key points, concise and clear)
2. A key takeaway (one sentence summarizing the most important insight)

Please respond in English in the following format:
【` + LabelThingsToWatch + `】
1. ...
2. ...
3. ...

【` + LabelTakeaway + `】
...`)
	return b.String()
}

func translatePrompt(languageName, text string) string {
	return fmt.Sprintf(`Translate the following news summary into %s.
Keep the 【%s】 and 【%s】 headers exactly as written, in English, and keep the numbering.
Reply with the translation only.

%s`, languageName, LabelThingsToWatch, LabelTakeaway, text)
}

func keywordPrompt(topic string) string {
	return fmt.Sprintf(`Give up to %d short English search keywords for the news topic %q.
Reply with the keywords only, separated by commas.`, maxTopicKeywords, topic)
}

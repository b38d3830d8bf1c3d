package vision

import (
	"fmt"

	"github.com/v0xg/clickloop/internal/verify"
)

const systemPrompt = `You are the eyes of a browser automation agent. You receive a screenshot of a web page and one question about it.

The screenshot may contain a black arrow cursor surrounded by a red circle. That marker shows where the mouse pointer currently is; it is not part of the page.

Coordinates are in screenshot pixels, measured from the top-left corner of the image.

Respond ONLY with a single JSON object, no explanation or markdown.`

const locatePrompt = `The screenshot is %d pixels wide and %d pixels tall.

Find this element: %s

If it is visible, reply with the pixel coordinates of its center:
{"found": true, "x": <number>, "y": <number>}

If it is not visible, reply:
{"found": false}`

const checkPrompt = `Check whether the page is in the expected state.

Subject: %s
Expected state: %s

Reply with:
{"passed": true|false, "confidence": <0-100>, "details": "<one short sentence>"}

"confidence" is how sure you are about your answer, not about the page.`

func buildLocatePrompt(width, height int, description string) string {
	return fmt.Sprintf(locatePrompt, width, height, description)
}

func buildCheckPrompt(cond verify.Condition) string {
	expected := cond.Expected
	if expected == "" {
		expected = fmt.Sprintf("%s is visible on the page", cond.Label)
	}
	return fmt.Sprintf(checkPrompt, cond.Label, expected)
}

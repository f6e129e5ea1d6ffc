package quill

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"chatkeeper/pkg/queue"
)

// renderedCaption turns the source caption into HTML with inline links
// restored and the subscribe footer appended.
func (b *Bot) renderedCaption(media queue.MediaPayload) string {
	return renderCaptionHTML(media.Caption, media.Entities) + b.subscribeFooter()
}

func (b *Bot) subscribeFooter() string {
	name := strings.TrimPrefix(b.cfg.ChannelID, "@")
	title := b.cfg.ChannelTitle
	if title == "" {
		title = name
	}

	return fmt.Sprintf("\n\nПодписаться: <a href=\"https://t.me/%s\"><b>%s</b></a>", name, title)
}

// renderCaptionHTML re-renders text_link caption entities as HTML anchors.
// Entity offsets count UTF-16 code units, so the caption is spliced in that
// encoding and decoded at the end.
func renderCaptionHTML(caption string, entities []queue.CaptionEntity) string {
	if caption == "" {
		return ""
	}

	links := make([]queue.CaptionEntity, 0, len(entities))
	for _, entity := range entities {
		if entity.Type == "text_link" && entity.URL != "" {
			links = append(links, entity)
		}
	}
	if len(links) == 0 {
		return caption
	}

	// Splice back-to-front so earlier offsets stay valid.
	sort.Slice(links, func(i, j int) bool { return links[i].Offset > links[j].Offset })

	units := utf16.Encode([]rune(caption))
	for _, link := range links {
		if link.Offset < 0 || link.Offset+link.Length > len(units) {
			continue
		}

		linkText := string(utf16.Decode(units[link.Offset : link.Offset+link.Length]))
		anchor := utf16.Encode([]rune(fmt.Sprintf(`<a href="%s">%s</a>`, link.URL, linkText)))

		spliced := make([]uint16, 0, len(units)+len(anchor))
		spliced = append(spliced, units[:link.Offset]...)
		spliced = append(spliced, anchor...)
		spliced = append(spliced, units[link.Offset+link.Length:]...)
		units = spliced
	}

	return string(utf16.Decode(units))
}

package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	listTitlesRe = regexp.MustCompile(`(?i)^(?:what|which) (?:task )?lists(?: do i have)?\??$|(?i)^(?:show|list)(?: me)?(?: my| all)? (?:task )?lists\??$`)
	showListRe   = regexp.MustCompile(`(?i)^(?:what(?:'s| is) on|what do i have on|show(?: me)?|read(?: me)?) (?:my |the )?(.+?) list\??$`)
	addItemRe    = regexp.MustCompile(`(?i)^(?:add|put) (.+?) (?:to|on) (?:my |the )?(.+?)\.?$`)
	rememberRe   = regexp.MustCompile(`(?i)^remember to (?:buy|get|grab|pick up) (.+?)\.?$`)
	removeItemRe = regexp.MustCompile(`(?i)^(?:remove|delete|take) (.+?) (?:from|off) (?:my |the )?(.+?)\.?$`)
)

func (i *Interpreter) tryLists(ctx context.Context, text string) (string, bool) {
	if i.lists == nil {
		return "", false
	}

	if listTitlesRe.MatchString(text) {
		titles, err := i.lists.ListTitles(ctx)
		if err != nil {
			return "Sorry, I couldn't fetch your lists right now.", true
		}
		if len(titles) == 0 {
			return "You don't have any task lists yet.", true
		}
		return "Your lists:" + bulletList(titles), true
	}

	if m := showListRe.FindStringSubmatch(text); m != nil {
		list := canonicalList(m[1])
		items, err := i.lists.ListItems(ctx, list)
		if err != nil {
			return fmt.Sprintf("Sorry, I couldn't read the %s list right now.", list), true
		}
		if len(items) == 0 {
			return fmt.Sprintf("The %s list is empty.", list), true
		}
		return fmt.Sprintf("On the %s list:%s", list, bulletList(items)), true
	}

	if m := removeItemRe.FindStringSubmatch(text); m != nil {
		item, list := strings.TrimSpace(m[1]), canonicalList(m[2])
		found, err := i.lists.RemoveItem(ctx, list, item)
		if err != nil {
			return fmt.Sprintf("Sorry, I couldn't update the %s list right now.", list), true
		}
		if !found {
			return fmt.Sprintf("I didn't find %q on the %s list.", item, list), true
		}
		return fmt.Sprintf("Removed %s from the %s list.", item, list), true
	}

	if m := addItemRe.FindStringSubmatch(text); m != nil {
		item, list := strings.TrimSpace(m[1]), canonicalList(m[2])
		if err := i.lists.AddItem(ctx, list, item); err != nil {
			return fmt.Sprintf("Sorry, I couldn't update the %s list right now.", list), true
		}
		return fmt.Sprintf("Added %s to the %s list.", item, list), true
	}

	if m := rememberRe.FindStringSubmatch(text); m != nil {
		item := strings.TrimSpace(m[1])
		if err := i.lists.AddItem(ctx, "groceries", item); err != nil {
			return "Sorry, I couldn't update the groceries list right now.", true
		}
		return fmt.Sprintf("Added %s to the groceries list.", item), true
	}

	return "", false
}

var (
	inlineAddRe      = regexp.MustCompile(`(?i)\b(?:add|put) ([^,.!?]+?) (?:to|on) (?:my |the )?([a-z -]+?) list\b`)
	inlineRememberRe = regexp.MustCompile(`(?i)\bremember to (?:buy|get|grab|pick up) ([^,.!?]+)`)
)

// InlineMutation is a secondary pass run on messages already headed to
// the LLM: a list mutation buried mid-sentence still lands on the list.
// Unlike Interpret it never swallows the message; the caller forwards
// the text regardless.
func (i *Interpreter) InlineMutation(ctx context.Context, text string) (string, bool) {
	if i.lists == nil {
		return "", false
	}
	text = normalize(text)

	item, list := "", ""
	if m := inlineAddRe.FindStringSubmatch(text); m != nil {
		item, list = strings.TrimSpace(m[1]), canonicalList(m[2])
		if _, known := listAliases[list]; !known {
			return "", false
		}
	} else if m := inlineRememberRe.FindStringSubmatch(text); m != nil {
		item, list = strings.TrimSpace(m[1]), "groceries"
	} else {
		return "", false
	}

	if err := i.lists.AddItem(ctx, list, item); err != nil {
		i.logger.Warn("inline list mutation failed", "list", list, "item", item, "error", err)
		return "", false
	}
	return fmt.Sprintf("Added %s to the %s list.", item, list), true
}

package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
)

func TestOrderWindowsPutsPrimaryFirst(t *testing.T) {
	t.Parallel()

	infos := []*target.Info{
		{TargetID: "popup", Type: "page"},
		{TargetID: "worker", Type: "service_worker"},
		nil,
		{TargetID: "main", Type: "page"},
		{TargetID: "ad", Type: "page"},
	}
	got := orderWindows(infos, "main")
	assert.Equal(t, []WindowHandle{"main", "popup", "ad"}, got)
}

func TestNodeAttrsAndText(t *testing.T) {
	t.Parallel()

	node := &cdp.Node{
		NodeType:   cdp.NodeTypeElement,
		Attributes: []string{"href", "/actuarial-jobs/1-x", "class", "link", "dangling"},
		Children: []*cdp.Node{
			{NodeType: cdp.NodeTypeText, NodeValue: "  Senior "},
			{NodeType: cdp.NodeTypeElement, Children: []*cdp.Node{
				{NodeType: cdp.NodeTypeText, NodeValue: "Actuary  "},
			}},
		},
	}
	assert.Equal(t, map[string]string{"href": "/actuarial-jobs/1-x", "class": "link"}, nodeAttrs(node))
	assert.Equal(t, "Senior Actuary", nodeText(node))

	els := nodesToElements([]*cdp.Node{node})
	assert.Len(t, els, 1)
	assert.Same(t, node, els[0].Handle)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected child to be canceled with parent")
	}
}

func TestForwardCancelStop(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	stop()
	cancelParent()
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, child.Err())
}

func TestChromedpRejectsForeignHandles(t *testing.T) {
	t.Parallel()

	c := &Chromedp{sel: DefaultSelectors()}
	_, err := c.FindWithin(context.Background(), Element{Handle: "nope"}, MarkerCardLink)
	assert.Error(t, err)
	assert.ErrorIs(t, c.Click(context.Background(), Element{}), ErrNotNavigable)
}

func TestChromedpClosedSurface(t *testing.T) {
	t.Parallel()

	c := &Chromedp{sel: DefaultSelectors(), closed: true}
	ctx := context.Background()
	assert.ErrorIs(t, c.Navigate(ctx, "https://example.com"), ErrClosed)
	_, err := c.OpenWindows(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, c.WaitUntil(ctx, ElementPresent(MarkerBody), time.Millisecond))
	assert.False(t, c.WaitUntil(ctx, URLContains("x"), time.Millisecond))
	assert.NoError(t, c.Quit(ctx))
}

func TestSelectorsResolve(t *testing.T) {
	t.Parallel()

	sel := DefaultSelectors()
	got, err := sel.Resolve(MarkerCardLink)
	assert.NoError(t, err)
	assert.Equal(t, "a.Job_job-page-link__a5I5g", got)

	_, err = Selectors{}.Resolve(MarkerNext)
	assert.ErrorIs(t, err, ErrUnknownMarker)
	assert.True(t, IsXPath(sel.Next))
	assert.False(t, IsXPath(sel.Card))
}

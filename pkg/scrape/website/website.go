// Package website implements scrape.Adapter against the club's Plone-based
// site over plain HTTP. One Client holds one authenticated session.
package website

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/scrape"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

	memberActivitiesPage = "/member-activities"
	routeLinkText        = "See full route/place details."

	// Suggested retry delays for recognized transport failures.
	dnsErrorDelay = 60 * time.Second
	timeoutDelay  = 30 * time.Second
)

// Client is an authenticated scraping session. Not safe for concurrent use;
// the site tracks one navigation state per session cookie.
type Client struct {
	baseURL string // always with trailing slash
	http    *retryablehttp.Client
	now     func() time.Time
}

// New builds a client for the site at baseURL. The timeout bounds each page
// fetch; retries for transient failures happen at the engine level.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = 2
	retryClient.HTTPClient.Jar = jar
	retryClient.HTTPClient.Timeout = timeout

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    retryClient,
		now:     time.Now,
	}, nil
}

// classifyTransportErr maps network failures onto the retryable taxonomy with
// the delays that historically let the site recover.
func classifyTransportErr(pageURL string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &scrape.RetryableError{PageURL: pageURL, Message: "DNS not found", Delay: dnsErrorDelay, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &scrape.RetryableError{PageURL: pageURL, Message: "timeout", Delay: timeoutDelay, Err: err}
	}
	return &scrape.RetryableError{PageURL: pageURL, Message: err.Error(), Err: err}
}

func (c *Client) fetch(ctx context.Context, method, pageURL string, form url.Values) (*goquery.Document, string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, pageURL, body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", classifyTransportErr(pageURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classifyTransportErr(pageURL, err)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", &scrape.MissingContentError{PageURL: pageURL, Message: "page not found"}
	case resp.StatusCode >= 500:
		title := pageTitle(raw)
		return nil, "", &scrape.RetryableError{
			PageURL: pageURL,
			Message: fmt.Sprintf("server error %d: %s", resp.StatusCode, title),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, "", &scrape.PageFormatError{
			PageURL: pageURL,
			Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, pageTitle(raw)),
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, "", &scrape.PageFormatError{PageURL: pageURL, Message: "unparseable HTML"}
	}
	return doc, finalURL, nil
}

func (c *Client) get(ctx context.Context, pageURL string) (*goquery.Document, string, error) {
	return c.fetch(ctx, http.MethodGet, pageURL, nil)
}

// Login submits the Plone login form and keeps the session cookie in the jar.
func (c *Client) Login(ctx context.Context, username, password string) error {
	loginURL := c.baseURL + "login"
	form := url.Values{}
	form.Set("__ac_name", username)
	form.Set("__ac_password", password)
	form.Set("came_from", c.baseURL)
	form.Set("buttons.login", "Login")

	doc, _, err := c.fetch(ctx, http.MethodPost, loginURL, form)
	if err != nil {
		return err
	}
	// The login form coming back means the credentials were rejected.
	if doc.Find(`input[name="__ac_password"]`).Length() > 0 {
		return fmt.Errorf("website: login rejected for %s", username)
	}
	return nil
}

// FetchCurrentProfile follows the member menu's own-profile link.
func (c *Client) FetchCurrentProfile(ctx context.Context) (*scrape.ProfileSnapshot, error) {
	doc, finalURL, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	var profileURL string
	doc.Find("li.user a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "My Profile") {
			profileURL, _ = s.Attr("href")
			return false
		}
		return true
	})
	if profileURL == "" {
		return nil, &scrape.PageFormatError{PageURL: finalURL, Message: "own profile link not in member menu"}
	}
	return c.FetchProfile(ctx, profileURL)
}

// resolveProfileURL accepts a full profile URL or just its last path
// component (usually the person's name).
func (c *Client) resolveProfileURL(profileURL string) string {
	if strings.HasPrefix(profileURL, "http") {
		return profileURL
	}
	return c.baseURL + "members/" + profileURL
}

func (c *Client) FetchProfile(ctx context.Context, profileURL string) (*scrape.ProfileSnapshot, error) {
	pageURL := c.resolveProfileURL(profileURL)
	doc, finalURL, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseProfile(doc, finalURL)
}

func parseProfile(doc *goquery.Document, pageURL string) (*scrape.ProfileSnapshot, error) {
	wrapper := doc.Find("div.profile-wrapper").First()
	if wrapper.Length() == 0 {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "profile wrapper missing"}
	}

	snap := &scrape.ProfileSnapshot{ProfileURL: strings.TrimSuffix(pageURL, "/")}

	portrait, ok := wrapper.Find("div.portrait img").First().Attr("src")
	if !ok {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "portrait missing"}
	}
	snap.PortraitURL = portrait

	snap.FullName = strings.TrimSpace(wrapper.Find("h1").First().Text())
	if snap.FullName == "" {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "full name missing"}
	}

	// The details list mixes Branch, Member since, and whatever else the
	// site decides to show.
	wrapper.Find("ul.details li").Each(func(i int, li *goquery.Selection) {
		if strings.Contains(li.Text(), "Branch") {
			snap.Branch = strings.TrimSpace(li.Find("a").First().Text())
		}
	})

	snap.Email = strings.TrimSpace(wrapper.Find("div.email a").First().Text())
	if snap.Email == "" {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "email missing"}
	}
	return snap, nil
}

// FetchMemberActivityStubs reads the member's activity history table,
// canceled rows included.
func (c *Client) FetchMemberActivityStubs(ctx context.Context, profileURL string) ([]scrape.ActivityStub, error) {
	pageURL := strings.TrimSuffix(c.resolveProfileURL(profileURL), "/") + memberActivitiesPage
	doc, finalURL, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseActivityStubs(doc, finalURL)
}

func parseActivityStubs(doc *goquery.Document, pageURL string) ([]scrape.ActivityStub, error) {
	if doc.Find("table.listing").Length() == 0 {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "activity history table missing"}
	}

	var stubs []scrape.ActivityStub
	var rowErr error
	doc.Find("tr.activity-listing").EachWithBreak(func(i int, row *goquery.Selection) bool {
		link := row.Find(`td[data-th="Activity/Event"] a`).First()
		if link.Length() == 0 {
			rowErr = &scrape.PageFormatError{PageURL: pageURL, Message: "activity row without a link"}
			return false
		}
		stub := scrape.ActivityStub{Name: strings.TrimSpace(link.Text())}
		stub.ActivityURL, _ = link.Attr("href")

		// Future rows carry a Status cell; past rows fold role and personal
		// result into one cell and add registration and trip result cells.
		if status := row.Find(`td[data-th="Status"]`); status.Length() > 0 {
			stub.IsFuture = true
			stub.Registration = strings.TrimSpace(status.Text())
			role := row.Find(`td[data-th="Role"]`)
			if role.Length() == 0 {
				rowErr = &scrape.PageFormatError{PageURL: pageURL, Message: "future row without a Role cell"}
				return false
			}
			stub.Role = strings.TrimSpace(role.Text())
		} else {
			rr := row.Find(`td[data-th="Role: Result"]`)
			if rr.Length() == 0 {
				rowErr = &scrape.PageFormatError{PageURL: pageURL, Message: "past row without a Role: Result cell"}
				return false
			}
			spans := rr.Find("span")
			if spans.Length() > 0 {
				stub.Role = strings.TrimSpace(spans.Eq(0).Text())
			}
			if spans.Length() >= 3 {
				stub.MemberResult = strings.TrimSpace(spans.Eq(2).Text())
			}
			reg := row.Find(`td[data-th="Registration Status"]`)
			if reg.Length() == 0 {
				rowErr = &scrape.PageFormatError{PageURL: pageURL, Message: "past row without a Registration Status cell"}
				return false
			}
			stub.Registration = strings.TrimSpace(reg.Text())
			tr := row.Find(`td[data-th="Trip Result"]`)
			if tr.Length() == 0 {
				rowErr = &scrape.PageFormatError{PageURL: pageURL, Message: "past row without a Trip Result cell"}
				return false
			}
			stub.ActivityResult = strings.TrimSpace(tr.Text())
		}

		stub.IsCanceled = stub.Registration == club.RegistrationCanceled ||
			stub.ActivityResult == club.ResultCanceled
		stubs = append(stubs, stub)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return stubs, nil
}

// FetchActivityDetail fetches one activity page and its roster.
func (c *Client) FetchActivityDetail(ctx context.Context, activityURL string) (*scrape.ActivitySnapshot, error) {
	doc, finalURL, err := c.get(ctx, activityURL)
	if err != nil {
		return nil, err
	}
	return parseActivityDetail(doc, finalURL, c.now())
}

func parseActivityDetail(doc *goquery.Document, pageURL string, now time.Time) (*scrape.ActivitySnapshot, error) {
	snap := &scrape.ActivitySnapshot{ActivityURL: pageURL}

	heading := doc.Find("h1.documentFirstHeading").First()
	if heading.Length() == 0 {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "activity heading missing"}
	}
	snap.Name = strings.TrimSpace(heading.Text())
	if strings.Contains(strings.ToLower(snap.Name), "does not seem to exist") {
		return nil, &scrape.MissingContentError{PageURL: pageURL, Message: "activity does not exist"}
	}

	core := doc.Find("div.program-core").First()
	if core.Length() == 0 {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "program core missing"}
	}

	var dateStr string
	core.Find("ul.details li").Each(func(i int, li *goquery.Selection) {
		label := strings.TrimSpace(li.Find("label").First().Text())
		text := strings.TrimSpace(li.Text())
		switch {
		case label == "" && dateStr == "":
			dateStr = text
		case label == "When:":
			dateStr = strings.TrimSpace(strings.TrimPrefix(text, "When:"))
		case label == "Committee:":
			// Sometimes linked, sometimes plain text.
			snap.Committee = strings.TrimSpace(li.Find("a").First().Text())
			if snap.Committee == "" {
				snap.Committee = strings.TrimSpace(strings.TrimPrefix(text, "Committee:"))
			}
		case label == "Difficulty:":
			snap.Difficulty = strings.TrimSpace(strings.TrimPrefix(text, "Difficulty:"))
		case label == "Leader Rating:":
			snap.LeaderRating = strings.TrimSpace(strings.TrimPrefix(text, "Leader Rating:"))
		case label == "Activity Type:":
			snap.ActivityType = strings.TrimSpace(strings.TrimPrefix(text, "Activity Type:"))
		case label == "Branch:":
			snap.Branch = strings.TrimSpace(strings.TrimPrefix(text, "Branch:"))
		case strings.Contains(text, "Mileage:"):
			snap.Mileage = strings.TrimSpace(strings.TrimPrefix(text, "Mileage:"))
		}
	})
	if dateStr == "" {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "activity date missing"}
	}
	var err error
	snap.DateStart, snap.DateEnd, err = parseDateRange(dateStr)
	if err != nil {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: fmt.Sprintf("activity date: %v", err)}
	}

	if err := parseRoute(doc, snap, pageURL); err != nil {
		return nil, err
	}

	isInPast := snap.DateEnd.Before(startOfDay(now))
	classifyStatus(doc, snap, isInPast)

	participants, err := parseRoster(doc, pageURL)
	if err != nil {
		return nil, err
	}
	snap.Participants = participants
	return snap, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// parseRoute picks up the optional route block. The link text is constant;
// the route name sits in the enclosing block's h3.
func parseRoute(doc *goquery.Document, snap *scrape.ActivitySnapshot, pageURL string) error {
	var routeLink *goquery.Selection
	doc.Find("a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == routeLinkText {
			routeLink = s
			return false
		}
		return true
	})
	if routeLink == nil {
		return nil
	}
	snap.RouteURL, _ = routeLink.Attr("href")
	snap.RouteName = strings.TrimSpace(routeLink.Parent().Parent().Parent().Find("h3").First().Text())
	if snap.RouteName == "" {
		return &scrape.PageFormatError{PageURL: pageURL, Message: "route block without a name"}
	}
	return nil
}

// classifyStatus derives the lifecycle status and whole-activity result from
// the closure banner, falling back on the register block and the calendar.
func classifyStatus(doc *goquery.Document, snap *scrape.ActivitySnapshot, isInPast bool) {
	errorText := strings.TrimSpace(doc.Find("div.error").First().Text())
	registerText := strings.TrimSpace(doc.Find("#register-participant").Text())

	pastOrFuture := club.StatusFuture
	if isInPast {
		pastOrFuture = club.StatusPast
	}

	if errorText != "" {
		switch {
		case strings.Contains(errorText, "has been closed"):
			snap.Status = club.StatusClosed
			switch {
			case strings.Contains(errorText, "successful"):
				snap.Result = club.ResultSuccess
			case strings.Contains(errorText, "canceled"):
				snap.Result = club.ResultCanceled
			case strings.Contains(errorText, "turned around"):
				snap.Result = club.ResultTurnedAround
			default:
				snap.Result = strings.TrimSpace(strings.ReplaceAll(errorText, "This activity has been closed.", ""))
			}
		case strings.Contains(errorText, "This event has been canceled."):
			snap.Status = club.StatusClosed
			snap.Result = club.ResultCanceled
		case strings.Contains(errorText, "This event already ended"):
			// Events carry no result; assume success.
			snap.Status = club.StatusClosed
			snap.Result = club.ResultSuccess
		case strings.Contains(errorText, "This activity already ended."):
			snap.Status = club.StatusClosed
			snap.Result = club.ResultSuccess
		case strings.Contains(errorText, "Registration closed on"):
			snap.Status = pastOrFuture
		default:
			// Unrelated banner, e.g. a registration date conflict.
			snap.Status = pastOrFuture
		}
		return
	}

	if strings.Contains(registerText, "This activity is part of the") {
		// Part of a course. Some close, some never do; treat finished ones
		// as closed either way.
		if isInPast {
			snap.Status = club.StatusClosed
			snap.Result = club.ResultSuccess
		} else {
			snap.Status = club.StatusFuture
		}
		return
	}

	snap.Status = pastOrFuture
	if isInPast {
		snap.Result = club.ResultSuccess
	}
}

// parseRoster reads the roster tab. Empty contact slots are skipped and
// duplicate member links collapsed; a missing role means plain participant.
func parseRoster(doc *goquery.Document, pageURL string) ([]scrape.ParticipantSnapshot, error) {
	tab := doc.Find(`div[data-tab="roster-tab"]`).First()
	if tab.Length() == 0 {
		return nil, &scrape.PageFormatError{PageURL: pageURL, Message: "roster tab missing"}
	}

	var participants []scrape.ParticipantSnapshot
	seen := make(map[string]bool)
	tab.Find("div.roster-contact").Each(func(i int, div *goquery.Selection) {
		link := div.Find("a").First()
		if link.Length() == 0 {
			return
		}
		memberURL, _ := link.Attr("href")
		memberURL = strings.ReplaceAll(memberURL, "?ajax_load=1", "")
		if memberURL == "" || seen[memberURL] {
			return
		}
		seen[memberURL] = true

		role := strings.TrimSpace(div.Find(".roster-position").First().Text())
		if role == "" {
			role = "Participant"
		}
		participants = append(participants, scrape.ParticipantSnapshot{
			ProfileURL:   memberURL,
			Name:         strings.TrimSpace(link.Text()),
			Role:         role,
			Registration: club.RegistrationRegistered,
		})
	})
	return participants, nil
}

package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/testutil"
	"github.com/cucumber/godog"
)

const pollTimeout = 5 * time.Second

// RegisterSteps binds every step of the API suite.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the emeter API is running$`, tc.theAPIIsRunning)
	sc.Step(`^the reader returns "([^"]*)"$`, tc.theReaderReturns)
	sc.Step(`^the reader fails with "([^"]*)"$`, tc.theReaderFailsWith)
	sc.Step(`^the reader is blocked$`, tc.theReaderIsBlocked)
	sc.Step(`^the reader is released$`, tc.theReaderIsReleased)

	sc.Step(`^I upload a meter photo$`, tc.iUploadAMeterPhoto)
	sc.Step(`^I upload the text "([^"]*)"$`, tc.iUploadTheText)
	sc.Step(`^I request the (status|values|result) of the job$`, tc.iRequestOfTheJob)
	sc.Step(`^I request the status of job "([^"]*)"$`, tc.iRequestTheStatusOfJob)
	sc.Step(`^(\d+) seconds pass and the janitor runs$`, tc.secondsPassAndTheJanitorRuns)

	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, tc.theJSONFieldShouldBe)
	sc.Step(`^the error detail should be "([^"]*)"$`, tc.theErrorDetailShouldBe)
	sc.Step(`^the values should be "([^"]*)"$`, tc.theValuesShouldBe)
	sc.Step(`^the response should be a JPEG image$`, tc.theResponseShouldBeAJPEGImage)
	sc.Step(`^the job should eventually be "([^"]*)"$`, tc.theJobShouldEventuallyBe)
	sc.Step(`^the result files should be gone$`, tc.theResultFilesShouldBeGone)
}

func (tc *TestContext) theAPIIsRunning() error {
	return tc.start()
}

func (tc *TestContext) theReaderReturns(values string) error {
	tc.Proc.Set(strings.Split(values, ","), nil)
	return nil
}

func (tc *TestContext) theReaderFailsWith(msg string) error {
	tc.Proc.Set(nil, errors.New(msg))
	return nil
}

func (tc *TestContext) theReaderIsBlocked() error {
	tc.Proc.Set([]string{"0"}, nil)
	tc.gate = make(chan struct{})
	tc.Proc.SetGate(tc.gate)
	return nil
}

func (tc *TestContext) theReaderIsReleased() error {
	if tc.gate == nil {
		return errors.New("reader is not blocked")
	}
	close(tc.gate)
	tc.gate = nil
	return nil
}

func (tc *TestContext) iUploadAMeterPhoto() error {
	img, _ := testutil.GenerateMeterImage(testutil.DefaultMeterImageConfig())
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	if err := tc.upload("meter.jpg", buf.Bytes()); err != nil {
		return err
	}
	var body struct {
		ID string `json:"uuid"`
	}
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("upload response is not JSON: %w", err)
	}
	if body.ID == "" {
		return fmt.Errorf("upload response has no uuid: %s", tc.LastBody)
	}
	tc.LastJobID = body.ID
	return nil
}

func (tc *TestContext) iUploadTheText(text string) error {
	return tc.upload("notes.txt", []byte(text))
}

func (tc *TestContext) upload(name string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.Server.URL+"/upload/", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := tc.Server.Client().Do(req)
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) get(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.Server.URL+path, nil)
	if err != nil {
		return err
	}
	resp, err := tc.Server.Client().Do(req)
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) iRequestOfTheJob(what string) error {
	if tc.LastJobID == "" {
		return errors.New("no job has been uploaded")
	}
	return tc.get("/" + what + "/" + tc.LastJobID)
}

func (tc *TestContext) iRequestTheStatusOfJob(id string) error {
	return tc.get("/status/" + id)
}

func (tc *TestContext) secondsPassAndTheJanitorRuns(seconds int) error {
	tc.Clock.Advance(time.Duration(seconds) * time.Second)
	tc.Service.Janitor().Sweep(tc.Clock.Now())
	return nil
}

func (tc *TestContext) theResponseStatusShouldBe(code int) error {
	if tc.LastStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastStatusCode, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) jsonBody() (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return body, nil
}

func (tc *TestContext) theJSONFieldShouldBe(field, want string) error {
	body, err := tc.jsonBody()
	if err != nil {
		return err
	}
	got, ok := body[field]
	if !ok {
		return fmt.Errorf("field %q missing from %s", field, tc.LastBody)
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("field %q: expected %q, got %q", field, want, got)
	}
	return nil
}

func (tc *TestContext) theErrorDetailShouldBe(want string) error {
	return tc.theJSONFieldShouldBe("detail", want)
}

func (tc *TestContext) theValuesShouldBe(want string) error {
	var body struct {
		Values []string `json:"values"`
	}
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("values response is not JSON: %w", err)
	}
	if got := strings.Join(body.Values, ","); got != want {
		return fmt.Errorf("expected values %q, got %q", want, got)
	}
	return nil
}

func (tc *TestContext) theResponseShouldBeAJPEGImage() error {
	if tc.LastContentType != "image/jpeg" {
		return fmt.Errorf("expected image/jpeg, got %q", tc.LastContentType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(tc.LastBody)); err != nil {
		return fmt.Errorf("result is not a JPEG: %w", err)
	}
	return nil
}

func (tc *TestContext) theJobShouldEventuallyBe(want string) error {
	deadline := time.Now().Add(pollTimeout)
	for {
		res, err := tc.Service.CheckStatus(tc.LastJobID)
		if err == nil && res.Status == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("job %s did not reach %q (last: %+v, err: %v)", tc.LastJobID, want, res, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (tc *TestContext) theResultFilesShouldBeGone() error {
	for _, p := range []string{
		jobs.InputPath(tc.TempDir, tc.LastJobID),
		jobs.OutputPath(tc.TempDir, tc.LastJobID),
	} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("expected %s to be removed, stat error: %v", p, err)
		}
	}
	return nil
}

package medicine

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/medtrack/internal/expiry"
	"github.com/zombor/medtrack/internal/notify"
)

var _ = Describe("Integration", func() {
	var (
		tempDir   string
		db        *BoltDB
		store     *LocalStorage
		scanner   *mockScanner
		notifier  *notify.Local
		service   *Service
		reminders *Reconciler
		server    *Server
		ghServer  *ghttp.Server
		expiresOn string
	)

	request := func(method, path string, v any) *http.Response {
		var body bytes.Buffer
		if v != nil {
			Expect(json.NewEncoder(&body).Encode(v)).To(Succeed())
		}
		ghServer.AppendHandlers(server.ServeHTTP)
		req, err := http.NewRequest(method, ghServer.URL()+path, &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "medtrack.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = NewLocalStorage(filepath.Join(tempDir, "labels"))
		Expect(err).NotTo(HaveOccurred())

		scanner = newMockScanner()
		notifier = notify.NewLocal(notify.DefaultPolicy(), true, notify.LogPresenter{})

		service = NewService(db, scanner, store)
		reminders = NewReconciler(db, notifier, notify.StaticProbe(true), DefaultLeadDays)
		server = NewServer(service, reminders, BasicAuth{})
		ghServer = ghttp.NewServer()

		expiresOn = expiry.Of(time.Now().AddDate(2, 0, 0)).String()
	})

	AfterEach(func() {
		ghServer.Close()
		notifier.Close()
		db.Close()
	})

	It("keeps reminders in step with the medicine lifecycle", func() {
		resp := request(http.MethodPost, "/api/medicines", map[string]string{
			"name":        "Amoxicillin",
			"company":     "Sandoz",
			"expiry_date": expiresOn,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created decodedView
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.Status.Level).To(Equal(expiry.Good))

		bindings := reminders.Bindings()
		Expect(bindings).To(HaveKey(created.ID))
		Expect(notifier.Pending()).To(Equal(1))

		By("rescheduling when the date changes")
		later := expiry.Of(time.Now().AddDate(3, 0, 0)).String()
		resp = request(http.MethodPatch, "/api/medicines/"+created.ID, map[string]string{"expiry_date": later})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(reminders.Bindings()[created.ID]).NotTo(Equal(bindings[created.ID]))
		Expect(notifier.Pending()).To(Equal(1))

		By("cancelling when the medicine is deleted")
		resp = request(http.MethodDelete, "/api/medicines/"+created.ID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(reminders.Bindings()).To(BeEmpty())
		Expect(notifier.Pending()).To(BeZero())
		Expect(service.List()).To(BeEmpty())
	})

	It("rebuilds reminders for stored medicines after a restart", func() {
		for _, name := range []string{"Amoxicillin", "Ibuprofen"} {
			_, err := service.Add(&Medicine{Name: name, ExpiryDate: expiresOn})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(notifier.Pending()).To(BeZero())

		Expect(db.Close()).To(Succeed())
		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "medtrack.db"))
		Expect(err).NotTo(HaveOccurred())
		service = NewService(db, scanner, store)
		reminders = NewReconciler(db, notifier, notify.StaticProbe(true), DefaultLeadDays)

		reminders.ReconcileAll(context.Background(), service.List())
		Expect(reminders.Bindings()).To(HaveLen(2))
		Expect(notifier.Pending()).To(Equal(2))
	})

	It("stores scanned photos and serves them back", func() {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "Label Photo.PNG")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		ghServer.AppendHandlers(server.ServeHTTP)
		resp, err := http.Post(ghServer.URL()+"/api/medicines/scan", writer.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var draft Draft
		Expect(json.NewDecoder(resp.Body).Decode(&draft)).To(Succeed())
		Expect(draft.ImageURI).To(HaveSuffix("_Label Photo.png"))

		m := &Medicine{Name: draft.Name, ExpiryDate: draft.ExpiryDate, ImageURI: draft.ImageURI}
		_, err = service.Add(m)
		Expect(err).NotTo(HaveOccurred())

		data, contentType, err := service.GetImage(m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(contentType).To(Equal("image/png"))
		Expect(string(data)).To(HavePrefix("\x89PNG"))

		found, err := service.Delete(m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		_, err = store.Get(draft.ImageURI)
		Expect(err).To(HaveOccurred())
	})
})

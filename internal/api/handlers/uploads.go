package handlers

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/service"
)

const (
	// multipartMemory — часть формы в памяти, остальное во временных файлах.
	multipartMemory = 8 << 20
	// multipartOverhead — запас на заголовки частей и поле metadata.
	multipartOverhead = 1 << 20
	// filesField — имя поля формы с файлами.
	filesField = "files"
)

// isMultipart — тело запроса в формате multipart/form-data.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseMultipart разбирает форму с ограничением общего размера тела.
// Вызывающий обязан вызвать RemoveAll у возвращённой формы.
func parseMultipart(w http.ResponseWriter, r *http.Request, limits service.Limits) (*multipart.Form, error) {
	maxBody := limits.MaxFileSize*int64(limits.MaxFilesPerUpload) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		return nil, err
	}
	return r.MultipartForm, nil
}

// writeMultipartError — 413 при превышении размера тела, иначе 400.
func writeMultipartError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		apierrors.FileTooLarge(w, "Размер запроса превышает "+strconv.FormatInt(mbe.Limit, 10)+" байт")
		return
	}
	apierrors.ValidationError(w, "Некорректный multipart-запрос", validation.FieldError{
		Field:   filesField,
		Rule:    "multipart",
		Message: err.Error(),
	})
}

// uploadsFromForm собирает загружаемые файлы поля "files".
func uploadsFromForm(form *multipart.Form) []service.Upload {
	return lo.Map(form.File[filesField], func(fh *multipart.FileHeader, _ int) service.Upload {
		return service.Upload{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	})
}

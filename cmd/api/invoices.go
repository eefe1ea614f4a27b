package main

import (
	"net/http"

	"repairflow/document"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleAttachInvoice(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "unreadable upload")
		return
	}
	defer f.Close()

	p, _ := principalFrom(c)
	doc, err := s.documents.AttachInvoice(c.Request.Context(), document.AttachParams{
		WorkOrderID: c.Param("id"),
		VendorID:    p.SubjectID,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	docs, err := s.documents.ListInvoices(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"items": docs})
}
